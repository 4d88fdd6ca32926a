package billing

import (
	"errors"
	"math"
)

// ErrWaiverModeNotFound means no billable service price carries a payment
// mode, so a waiver payment cannot be tagged. It is a configuration problem.
var ErrWaiverModeNotFound = errors.New("waiver payment mode not found in billable service catalog")

// LineItemPayload is a line item as sent to the backend.
type LineItemPayload struct {
	UUID            string        `json:"uuid,omitempty"`
	Item            *string       `json:"item,omitempty"`
	BillableService *string       `json:"billableService,omitempty"`
	Quantity        int           `json:"quantity"`
	Price           float64       `json:"price"`
	PriceName       string        `json:"priceName,omitempty"`
	PriceUUID       string        `json:"priceUuid,omitempty"`
	LineItemOrder   int           `json:"lineItemOrder"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
}

// WaiverLineItem always serialises billableService, null when the service
// could not be matched in the catalog.
type WaiverLineItem struct {
	LineItemPayload
	BillableService *string `json:"billableService"`
}

// PaymentPayload is a payment as sent to the backend; instanceType is the
// payment mode uuid.
type PaymentPayload struct {
	InstanceType   *string       `json:"instanceType"`
	Amount         float64       `json:"amount"`
	AmountTendered float64       `json:"amountTendered"`
	Attributes     []interface{} `json:"attributes"`
}

// WaiverPayload is the full bill update that records a waiver.
type WaiverPayload struct {
	CashPoint string           `json:"cashPoint"`
	Cashier   string           `json:"cashier"`
	LineItems []WaiverLineItem `json:"lineItems"`
	Payments  []PaymentPayload `json:"payments"`
	Patient   string           `json:"patient"`
}

// WaiverPayment returns the payment appended by BuildWaiverPayload.
func (p *WaiverPayload) WaiverPayment() *PaymentPayload {
	if len(p.Payments) == 0 {
		return nil
	}
	return &p.Payments[len(p.Payments)-1]
}

// Validate reports ErrWaiverModeNotFound when the waiver payment has no
// payment mode. Callers must check it before submitting.
func (p *WaiverPayload) Validate() error {
	wp := p.WaiverPayment()
	if wp == nil || wp.InstanceType == nil {
		return ErrWaiverModeNotFound
	}
	return nil
}

// FindWaiverPaymentMode scans the catalog for the first service whose first
// price has a payment mode uuid. It returns nil when there is none.
func FindWaiverPaymentMode(catalog []BillableService) *string {
	for _, svc := range catalog {
		if len(svc.ServicePrices) == 0 {
			continue
		}
		first := svc.ServicePrices[0]
		if first.PaymentMode != nil && first.PaymentMode.UUID != "" {
			uuid := first.PaymentMode.UUID
			return &uuid
		}
	}
	return nil
}

func findServiceUUID(catalog []BillableService, name string) *string {
	if name == "" {
		return nil
	}
	for _, svc := range catalog {
		if svc.Name == name {
			uuid := svc.UUID
			return &uuid
		}
	}
	return nil
}

// BuildWaiverPayload assembles the bill update that records amountWaived as a
// payment under the catalog's waiver mode. Every line item is re-tagged with
// its catalog service uuid and set back to PENDING. It performs no I/O and
// never fails; check Validate before submitting.
func BuildWaiverPayload(bill *MappedBill, amountWaived, totalAmount float64, lineItems []LineItem, catalog []BillableService) WaiverPayload {
	waiver := PaymentPayload{
		InstanceType:   FindWaiverPaymentMode(catalog),
		Amount:         RoundAmount(totalAmount),
		AmountTendered: RoundAmount(amountWaived),
		Attributes:     []interface{}{},
	}

	items := make([]WaiverLineItem, 0, len(lineItems))
	for _, li := range lineItems {
		p := toPayload(li)
		p.PaymentStatus = StatusPending
		var serviceName string
		if sc, ok := li.Charge.(ServiceCharge); ok {
			serviceName = sc.BillableService
		}
		items = append(items, WaiverLineItem{
			LineItemPayload: p,
			BillableService: findServiceUUID(catalog, serviceName),
		})
	}

	payments := make([]PaymentPayload, 0, len(bill.Payments)+1)
	for _, p := range bill.Payments {
		payments = append(payments, existingPayment(p))
	}
	payments = append(payments, waiver)

	payload := WaiverPayload{
		CashPoint: bill.CashPointUUID,
		LineItems: items,
		Payments:  payments,
		Patient:   bill.PatientUUID,
	}
	if bill.Cashier != nil {
		payload.Cashier = bill.Cashier.UUID
	}
	return payload
}

func existingPayment(p Payment) PaymentPayload {
	out := PaymentPayload{
		Amount:         p.Amount,
		AmountTendered: p.AmountTendered,
		Attributes:     p.Attributes,
	}
	if out.Attributes == nil {
		out.Attributes = []interface{}{}
	}
	if p.InstanceType != nil && p.InstanceType.UUID != "" {
		uuid := p.InstanceType.UUID
		out.InstanceType = &uuid
	}
	return out
}

func toPayload(li LineItem) LineItemPayload {
	p := LineItemPayload{
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
		item := c.Item
		p.Item = &item
	case ServiceCharge:
		svc := c.BillableService
		p.BillableService = &svc
	}
	return p
}

// RoundAmount rounds to two decimal places, half away from zero.
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
