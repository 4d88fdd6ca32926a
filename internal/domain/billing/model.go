package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// PaymentStatus is the settlement state of a line item or bill.
type PaymentStatus string

const (
	StatusPending PaymentStatus = "PENDING"
	StatusPaid    PaymentStatus = "PAID"
)

// Ref is the {uuid, display} shape the backend uses for nested resources.
type Ref struct {
	UUID    string `json:"uuid"`
	Display string `json:"display,omitempty"`
}

// PaymentMode is a named settlement channel (cash, insurance, waiver).
type PaymentMode struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// CashPoint is the till a bill was raised at.
type CashPoint struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Location *Ref   `json:"location,omitempty"`
}

// Charge is what a line item bills for. It is either a CommodityCharge or a
// ServiceCharge.
type Charge interface {
	// Name is the display name of the billed commodity or service.
	Name() string
	isCharge()
}

// CommodityCharge bills a stock item.
type CommodityCharge struct {
	Item string
}

func (c CommodityCharge) Name() string { return c.Item }
func (CommodityCharge) isCharge()      {}

// ServiceCharge bills a billable service.
type ServiceCharge struct {
	BillableService string
}

func (s ServiceCharge) Name() string { return s.BillableService }
func (ServiceCharge) isCharge()      {}

// LineItem is one billed commodity or service on a bill.
type LineItem struct {
	UUID          string
	Charge        Charge
	Quantity      int
	Price         float64
	PriceName     string
	PriceUUID     string
	LineItemOrder int
	PaymentStatus PaymentStatus
}

// Total is the line's contribution to the bill total.
func (li LineItem) Total() float64 {
	return float64(li.Quantity) * li.Price
}

// DisplayName returns the commodity or service name, or "--" when neither is known.
func (li LineItem) DisplayName() string {
	if li.Charge != nil && li.Charge.Name() != "" {
		return li.Charge.Name()
	}
	return "--"
}

// lineItemWire is the backend representation of a line item.
type lineItemWire struct {
	UUID            string        `json:"uuid,omitempty"`
	Item            string        `json:"item,omitempty"`
	BillableService string        `json:"billableService,omitempty"`
	Quantity        int           `json:"quantity"`
	Price           float64       `json:"price"`
	PriceName       string        `json:"priceName,omitempty"`
	PriceUUID       string        `json:"priceUuid,omitempty"`
	LineItemOrder   int           `json:"lineItemOrder"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
}

// UnmarshalJSON decodes the backend shape. A non-empty "item" makes the line a
// CommodityCharge; anything else is a ServiceCharge.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	var w lineItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*li = LineItem{
		UUID:          w.UUID,
		Quantity:      w.Quantity,
		Price:         w.Price,
		PriceName:     w.PriceName,
		PriceUUID:     w.PriceUUID,
		LineItemOrder: w.LineItemOrder,
		PaymentStatus: w.PaymentStatus,
	}
	if w.Item != "" {
		li.Charge = CommodityCharge{Item: w.Item}
	} else {
		li.Charge = ServiceCharge{BillableService: w.BillableService}
	}
	return nil
}

func (li LineItem) MarshalJSON() ([]byte, error) {
	w := lineItemWire{
		UUID:          li.UUID,
		Quantity:      li.Quantity,
		Price:         li.Price,
		PriceName:     li.PriceName,
		PriceUUID:     li.PriceUUID,
		LineItemOrder: li.LineItemOrder,
		PaymentStatus: li.PaymentStatus,
	}
	switch c := li.Charge.(type) {
	case CommodityCharge:
		w.Item = c.Item
	case ServiceCharge:
		w.BillableService = c.BillableService
	}
	return json.Marshal(w)
}

// Payment is a settlement recorded against a bill.
type Payment struct {
	UUID           string        `json:"uuid,omitempty"`
	InstanceType   *PaymentMode  `json:"instanceType"`
	Amount         float64       `json:"amount"`
	AmountTendered float64       `json:"amountTendered"`
	Attributes     []interface{} `json:"attributes,omitempty"`
}

// Bill is the raw bill record as the backend returns it with v=full.
type Bill struct {
	ID            int           `json:"id,omitempty"`
	UUID          string        `json:"uuid"`
	Display       string        `json:"display,omitempty"`
	ReceiptNumber string        `json:"receiptNumber,omitempty"`
	Status        PaymentStatus `json:"status,omitempty"`
	DateCreated   *string       `json:"dateCreated,omitempty"`
	Patient       *Ref          `json:"patient,omitempty"`
	Cashier       *Ref          `json:"cashier,omitempty"`
	CashPoint     *CashPoint    `json:"cashPoint,omitempty"`
	LineItems     []LineItem    `json:"lineItems"`
	Payments      []Payment     `json:"payments"`
}

// PatientIdentifier and PatientName split the "identifier-name" patient display.
func (b *Bill) PatientIdentifier() string { return displayPart(b.Patient, 0) }
func (b *Bill) PatientName() string       { return displayPart(b.Patient, 1) }

func displayPart(p *Ref, idx int) string {
	if p == nil {
		return ""
	}
	parts := strings.Split(p.Display, "-")
	if idx >= len(parts) {
		return ""
	}
	return strings.TrimSpace(parts[idx])
}

// StatusSource records which rule produced a MappedBill's status.
type StatusSource string

const (
	StatusDerived StatusSource = "derived"
	StatusStored  StatusSource = "stored"
)

// MappedBill is the display-ready view of a Bill. It is rebuilt from the raw
// record on every fetch and never sent back to the backend.
type MappedBill struct {
	ID                int           `json:"id,omitempty"`
	UUID              string        `json:"uuid"`
	PatientUUID       string        `json:"patient_uuid"`
	PatientName       string        `json:"patient_name"`
	Identifier        string        `json:"identifier"`
	Status            PaymentStatus `json:"status"`
	StatusSource      StatusSource  `json:"status_source"`
	ReceiptNumber     string        `json:"receipt_number,omitempty"`
	Cashier           *Ref          `json:"cashier,omitempty"`
	CashPointUUID     string        `json:"cash_point_uuid,omitempty"`
	CashPointName     string        `json:"cash_point_name,omitempty"`
	CashPointLocation string        `json:"cash_point_location,omitempty"`
	DateCreated       string        `json:"date_created"`
	CreatedAt         *time.Time    `json:"created_at,omitempty"`
	LineItems         []LineItem    `json:"line_items"`
	BillingService    string        `json:"billing_service"`
	Payments          []Payment     `json:"payments"`
	Display           string        `json:"display,omitempty"`
	TotalAmount       float64       `json:"total_amount"`
	TenderedAmount    float64       `json:"tendered_amount"`
}

// ServicePrice is one price of a billable service under a payment mode.
type ServicePrice struct {
	UUID        string       `json:"uuid,omitempty"`
	Name        string       `json:"name"`
	Price       float64      `json:"price"`
	PaymentMode *PaymentMode `json:"paymentMode,omitempty"`
}

// BillableService is a catalog entry for a chargeable service.
type BillableService struct {
	UUID          string         `json:"uuid,omitempty"`
	Name          string         `json:"name"`
	ShortName     string         `json:"shortName,omitempty"`
	ServiceStatus string         `json:"serviceStatus,omitempty"`
	ServiceType   *Ref           `json:"serviceType,omitempty"`
	Concept       *Ref           `json:"concept,omitempty"`
	ServicePrices []ServicePrice `json:"servicePrices"`
}

// CashierItem is a billable commodity: a priced stock item.
type CashierItem struct {
	UUID        string       `json:"uuid,omitempty"`
	Name        string       `json:"name"`
	Item        string       `json:"item"`
	Price       float64      `json:"price"`
	PaymentMode *PaymentMode `json:"paymentMode,omitempty"`
}

// StockItem is a stock management item that can be billed as a commodity.
type StockItem struct {
	UUID          string  `json:"uuid"`
	DrugName      string  `json:"drugName,omitempty"`
	CommonName    string  `json:"commonName,omitempty"`
	PurchasePrice float64 `json:"purchasePrice,omitempty"`
}

// Concept is a terminology concept, used to pick a service's concept.
type Concept struct {
	UUID    string `json:"uuid"`
	Display string `json:"display"`
}

// results is the list envelope used by the backend.
type results[T any] struct {
	Results []T `json:"results"`
}
