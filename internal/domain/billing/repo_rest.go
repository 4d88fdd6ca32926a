package billing

import (
	"context"
	"net/url"

	"github.com/ehr/cashier/internal/platform/openmrs"
)

const (
	billPath            = openmrs.BillingPath + "bill"
	billableServicePath = openmrs.BillingPath + "billableService"
	createServicePath   = openmrs.BillingPath + "api/billable-service"
	cashierItemPath     = openmrs.BillingPath + "cashierItemPrice"
	paymentModePath     = openmrs.BillingPath + "paymentMode"
	stockItemPath       = "stockmanagement/stockitem"
	conceptSearchPath   = "conceptsearch"

	serviceListView   = "custom:(uuid,name,shortName,serviceStatus,concept:(uuid,display,name:(name)),serviceType:(display),servicePrices:(uuid,name,price,paymentMode:(uuid,name)))"
	serviceSearchView = "custom:(uuid,name,shortName,serviceStatus,serviceType:(display),servicePrices:(uuid,name,price,paymentMode))"
	searchLimit       = "10"
)

type restBillRepo struct {
	client *openmrs.Client
}

func NewRESTBillRepo(client *openmrs.Client) BillRepository {
	return &restBillRepo{client: client}
}

func (r *restBillRepo) ListBills(ctx context.Context, patientUUID string) ([]Bill, error) {
	q := url.Values{"v": {"full"}}
	if patientUUID != "" {
		q.Set("patientUuid", patientUUID)
	} else {
		q.Set("q", "")
	}
	return openmrs.FetchAll[Bill](ctx, r.client, billPath+"?"+q.Encode())
}

func (r *restBillRepo) GetBill(ctx context.Context, uuid string) (*Bill, error) {
	var b Bill
	if err := r.client.Get(ctx, billPath+"/"+url.PathEscape(uuid)+"?v=full", &b); err != nil {
		if openmrs.IsNotFound(err) {
			return nil, ErrBillNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *restBillRepo) CreateBill(ctx context.Context, payload *BillPayload) (*Bill, error) {
	var b Bill
	if err := r.client.Post(ctx, billPath, payload, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *restBillRepo) UpdateBill(ctx context.Context, uuid string, payload interface{}) error {
	return r.client.Post(ctx, billPath+"/"+url.PathEscape(uuid), payload, nil)
}

type restCatalogRepo struct {
	client *openmrs.Client
}

func NewRESTCatalogRepo(client *openmrs.Client) CatalogRepository {
	return &restCatalogRepo{client: client}
}

func (r *restCatalogRepo) ListServices(ctx context.Context) ([]BillableService, error) {
	q := url.Values{"v": {serviceListView}}
	return openmrs.FetchAll[BillableService](ctx, r.client, billableServicePath+"?"+q.Encode())
}

func (r *restCatalogRepo) CreateService(ctx context.Context, svc *BillableService) error {
	if err := r.client.Post(ctx, createServicePath, svc, nil); err != nil {
		return err
	}
	// created through a different path than the one it is read from
	r.client.Invalidate(ctx, billableServicePath)
	return nil
}

func (r *restCatalogRepo) UpdateService(ctx context.Context, uuid string, svc *BillableService) error {
	return r.client.Post(ctx, billableServicePath+"/"+url.PathEscape(uuid), svc, nil)
}

func (r *restCatalogRepo) ListCommodities(ctx context.Context) ([]CashierItem, error) {
	var res results[CashierItem]
	if err := r.client.Get(ctx, cashierItemPath+"?v=default", &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (r *restCatalogRepo) CreateCommodity(ctx context.Context, item *CashierItem) error {
	return r.client.Post(ctx, cashierItemPath, item, nil)
}

func (r *restCatalogRepo) UpdateCommodity(ctx context.Context, uuid string, item *CashierItem) error {
	return r.client.Post(ctx, cashierItemPath+"/"+url.PathEscape(uuid), item, nil)
}

func (r *restCatalogRepo) DeleteCommodity(ctx context.Context, uuid string) error {
	return r.client.Delete(ctx, cashierItemPath+"/"+url.PathEscape(uuid))
}

func (r *restCatalogRepo) ListPaymentModes(ctx context.Context) ([]PaymentMode, error) {
	var res results[PaymentMode]
	if err := r.client.Get(ctx, paymentModePath, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (r *restCatalogRepo) SearchStockItems(ctx context.Context, q string) ([]StockItem, error) {
	params := url.Values{"v": {"default"}, "limit": {searchLimit}, "q": {q}}
	var res results[StockItem]
	if err := r.client.Get(ctx, stockItemPath+"?"+params.Encode(), &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (r *restCatalogRepo) SearchServices(ctx context.Context, q string) ([]BillableService, error) {
	params := url.Values{"v": {serviceSearchView}, "limit": {searchLimit}, "serviceName": {q}}
	var res results[BillableService]
	if err := r.client.Get(ctx, billableServicePath+"?"+params.Encode(), &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// conceptHit is one conceptsearch result; the concept itself is nested.
type conceptHit struct {
	Concept *Ref   `json:"concept"`
	Display string `json:"display"`
}

func (r *restCatalogRepo) SearchConcepts(ctx context.Context, q string) ([]Concept, error) {
	var res results[conceptHit]
	if err := r.client.Get(ctx, conceptSearchPath+"?"+url.Values{"q": {q}}.Encode(), &res); err != nil {
		return nil, err
	}
	out := make([]Concept, 0, len(res.Results))
	for _, h := range res.Results {
		if h.Concept == nil {
			continue
		}
		c := Concept{UUID: h.Concept.UUID, Display: h.Concept.Display}
		if c.Display == "" {
			c.Display = h.Display
		}
		out = append(out, c)
	}
	return out, nil
}
