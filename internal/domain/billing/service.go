package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/cashier/internal/platform/search"
)

// Event types published after successful bill mutations.
const (
	EventBillCreated = "bill.created"
	EventBillPaid    = "bill.paid"
	EventBillWaived  = "bill.waived"
)

// Publisher pushes change notifications to connected screens.
type Publisher interface {
	Publish(eventType, topic, id string)
}

// Settings are the facility values stamped on every bill this service
// creates or reports on.
type Settings struct {
	CashPoint          string
	Cashier            string
	PriceUUID          string
	Currency           string
	EnforceBillPayment bool
}

type Service struct {
	bills    BillRepository
	catalog  CatalogRepository
	settings Settings
	carts    *CartStore
	searches *search.Latest[[]CartItem]
	events   Publisher
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithSearchDebounce delays billable item searches so that only the last
// keystroke of a session hits the backend.
func WithSearchDebounce(d time.Duration) Option {
	return func(s *Service) { s.searches = search.NewLatest[[]CartItem](d) }
}

func WithCartStore(cs *CartStore) Option {
	return func(s *Service) { s.carts = cs }
}

func NewService(bills BillRepository, catalog CatalogRepository, settings Settings, opts ...Option) *Service {
	s := &Service{
		bills:    bills,
		catalog:  catalog,
		settings: settings,
		carts:    NewCartStore(8 * time.Hour),
		searches: search.NewLatest[[]CartItem](0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Carts exposes the cart store for background sweeping.
func (s *Service) Carts() *CartStore { return s.carts }

func (s *Service) publish(eventType, id string) {
	if s.events != nil {
		s.events.Publish(eventType, billPath, id)
	}
}

// -- Bills --

// ListBills returns mapped bills, newest first. A non-empty patientUUID asks
// the backend for that patient's bills only.
func (s *Service) ListBills(ctx context.Context, patientUUID string, opts ListOptions) ([]MappedBill, error) {
	bills, err := s.bills.ListBills(ctx, patientUUID)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	return MapBills(bills, opts), nil
}

// GetBill returns the single-bill view.
func (s *Service) GetBill(ctx context.Context, uuid string) (*MappedBill, error) {
	b, err := s.bills.GetBill(ctx, uuid)
	if err != nil {
		return nil, err
	}
	m := MapBillDetail(b)
	return &m, nil
}

// ProcessPayment forwards a bill update carrying new payments.
func (s *Service) ProcessPayment(ctx context.Context, uuid string, payload *BillPayload) error {
	if err := validatePayment(payload); err != nil {
		return err
	}
	if err := s.bills.UpdateBill(ctx, uuid, payload); err != nil {
		return fmt.Errorf("process payment: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("bill", uuid).Int("payments", len(payload.Payments)).Msg("payment processed")
	s.publish(EventBillPaid, uuid)
	return nil
}

func validatePayment(p *BillPayload) error {
	v := &ValidationError{}
	if len(p.Payments) == 0 {
		v.add("payments", "at least one payment is required")
	}
	for i, pay := range p.Payments {
		if pay.InstanceType == nil || *pay.InstanceType == "" {
			v.add(fmt.Sprintf("payments[%d].instanceType", i), "payment method is required")
		}
		if pay.AmountTendered <= 0 {
			v.add(fmt.Sprintf("payments[%d].amountTendered", i), "amount tendered must be greater than zero")
		}
	}
	return v.err()
}

// WaiveBill records amountWaived against a bill. The bill and the service
// catalog are fetched concurrently; the update is refused when the catalog
// has no payment mode to tag the waiver with.
func (s *Service) WaiveBill(ctx context.Context, uuid string, amountWaived float64) (*WaiverPayload, error) {
	var (
		bill    *Bill
		catalog []BillableService
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bill, err = s.bills.GetBill(gctx, uuid)
		return err
	})
	g.Go(func() error {
		var err error
		catalog, err = s.catalog.ListServices(gctx)
		if err != nil {
			return fmt.Errorf("list billable services: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mapped := MapBillDetail(bill)
	v := &ValidationError{}
	if amountWaived <= 0 {
		v.add("amount_waived", "amount to waive must be greater than zero")
	} else if RoundAmount(amountWaived) > RoundAmount(mapped.TotalAmount) {
		v.add("amount_waived", "amount to waive cannot exceed the bill total")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	payload := BuildWaiverPayload(&mapped, amountWaived, mapped.TotalAmount, bill.LineItems, catalog)
	if err := payload.Validate(); err != nil {
		zerolog.Ctx(ctx).Warn().Str("bill", uuid).Msg("no waiver payment mode in billable service catalog")
		return nil, err
	}
	if err := s.bills.UpdateBill(ctx, uuid, payload); err != nil {
		return nil, fmt.Errorf("submit waiver: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("bill", uuid).Float64("amount_waived", RoundAmount(amountWaived)).Msg("bill waived")
	s.publish(EventBillWaived, uuid)
	return &payload, nil
}

// Outstanding lists what the patient still owes.
func (s *Service) Outstanding(ctx context.Context, patientUUID string) (*Outstanding, error) {
	bills, err := s.bills.ListBills(ctx, patientUUID)
	if err != nil {
		return nil, fmt.Errorf("list patient bills: %w", err)
	}
	out := BuildOutstanding(patientUUID, bills)
	out.Currency = s.settings.Currency
	out.Enforce = s.settings.EnforceBillPayment
	return &out, nil
}

// Report builds the billing report for bills created in [start, end].
func (s *Service) Report(ctx context.Context, start, end time.Time) ([]ReportRow, error) {
	if end.Before(start) {
		v := &ValidationError{}
		v.add("end", "end date must not be before start date")
		return nil, v
	}
	bills, err := s.bills.ListBills(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	return BuildReport(bills, start, end), nil
}

// -- Carts --

func (s *Service) NewCart(patientUUID string) (Cart, error) {
	if strings.TrimSpace(patientUUID) == "" {
		v := &ValidationError{}
		v.add("patient_uuid", "patient is required")
		return Cart{}, v
	}
	c := NewCart(patientUUID)
	s.carts.Put(c)
	return c, nil
}

func (s *Service) GetCart(id uuid.UUID) (Cart, error) {
	return s.carts.Get(id)
}

func (s *Service) AddCartItem(id uuid.UUID, item CartItem) (Cart, error) {
	v := &ValidationError{}
	if item.UUID == "" {
		v.add("uuid", "item uuid is required")
	}
	if item.Category != CategoryCommodity && item.Category != CategoryService {
		v.add("category", "category must be Commodity or Service")
	}
	if err := v.err(); err != nil {
		return Cart{}, err
	}
	return s.carts.Update(id, func(c Cart) Cart { return c.Add(item) })
}

func (s *Service) SetCartQuantity(id uuid.UUID, itemUUID string, quantity int) (Cart, error) {
	return s.carts.Update(id, func(c Cart) Cart { return c.SetQuantity(itemUUID, quantity) })
}

func (s *Service) RemoveCartItem(id uuid.UUID, itemUUID string) (Cart, error) {
	return s.carts.Update(id, func(c Cart) Cart { return c.Remove(itemUUID) })
}

// SubmitCart creates a PENDING bill from the cart and drops the cart.
func (s *Service) SubmitCart(ctx context.Context, id uuid.UUID) (*Bill, error) {
	c, err := s.carts.Get(id)
	if err != nil {
		return nil, err
	}
	payload, err := c.BillPayload(PostBillOptions{
		CashPoint: s.settings.CashPoint,
		Cashier:   s.settings.Cashier,
		PriceUUID: s.settings.PriceUUID,
	})
	if err != nil {
		return nil, err
	}
	bill, err := s.bills.CreateBill(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create bill: %w", err)
	}
	s.carts.Delete(id)

	zerolog.Ctx(ctx).Info().Str("bill", bill.UUID).Str("patient", c.PatientUUID).Int("items", len(c.Items)).Msg("bill created")
	s.publish(EventBillCreated, bill.UUID)
	return bill, nil
}

// SearchBillableItems looks up cart candidates. Within one session only the
// latest query returns results; earlier ones get search.ErrSuperseded.
func (s *Service) SearchBillableItems(ctx context.Context, session string, category ItemCategory, q string) ([]CartItem, error) {
	if category != CategoryCommodity && category != CategoryService {
		v := &ValidationError{}
		v.add("category", "category must be Commodity or Service")
		return nil, v
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return []CartItem{}, nil
	}
	return s.searches.Do(ctx, session, func(ctx context.Context) ([]CartItem, error) {
		if category == CategoryCommodity {
			items, err := s.catalog.SearchStockItems(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("search stock items: %w", err)
			}
			return StockSearchOptions(items), nil
		}
		services, err := s.catalog.SearchServices(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("search billable services: %w", err)
		}
		return ServiceSearchOptions(services), nil
	})
}

// -- Catalog --

func (s *Service) ListServices(ctx context.Context, q string) ([]BillableService, error) {
	services, err := s.catalog.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list billable services: %w", err)
	}
	return FilterServices(services, q), nil
}

func (s *Service) CreateService(ctx context.Context, svc *BillableService) error {
	if err := ValidateService(svc); err != nil {
		return err
	}
	if svc.ServiceStatus == "" {
		svc.ServiceStatus = "ENABLED"
	}
	return s.catalog.CreateService(ctx, svc)
}

func (s *Service) UpdateService(ctx context.Context, uuid string, svc *BillableService) error {
	if err := ValidateService(svc); err != nil {
		return err
	}
	return s.catalog.UpdateService(ctx, uuid, svc)
}

func (s *Service) ListCommodities(ctx context.Context, q string) ([]CashierItem, error) {
	items, err := s.catalog.ListCommodities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list billable commodities: %w", err)
	}
	return BillableCommodities(items, q), nil
}

// SaveCommodity creates the commodity when uuid is empty and updates it
// otherwise. Its name is taken from the chosen payment mode.
func (s *Service) SaveCommodity(ctx context.Context, uuid string, item *CashierItem) error {
	if err := ValidateCommodity(item); err != nil {
		return err
	}
	modes, err := s.catalog.ListPaymentModes(ctx)
	if err != nil {
		return fmt.Errorf("list payment modes: %w", err)
	}
	NameCommodity(item, modes)
	if uuid == "" {
		return s.catalog.CreateCommodity(ctx, item)
	}
	return s.catalog.UpdateCommodity(ctx, uuid, item)
}

func (s *Service) DeleteCommodity(ctx context.Context, uuid string) error {
	return s.catalog.DeleteCommodity(ctx, uuid)
}

func (s *Service) ListPaymentModes(ctx context.Context) ([]PaymentMode, error) {
	return s.catalog.ListPaymentModes(ctx)
}

func (s *Service) SearchStockItems(ctx context.Context, q string) ([]StockItem, error) {
	return s.catalog.SearchStockItems(ctx, strings.TrimSpace(q))
}

func (s *Service) SearchConcepts(ctx context.Context, q string) ([]Concept, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Concept{}, nil
	}
	return s.catalog.SearchConcepts(ctx, q)
}
