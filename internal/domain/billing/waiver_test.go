package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testCatalog() []BillableService {
	return []BillableService{
		{UUID: "svc-free", Name: "Registration"},
		{UUID: "svc-consult", Name: "Consultation", ServicePrices: []ServicePrice{
			{Name: "Waiver", Price: 500, PaymentMode: &PaymentMode{UUID: "mode-waiver", Name: "Waiver"}},
		}},
		{UUID: "svc-lab", Name: "Lab", ServicePrices: []ServicePrice{
			{Name: "Cash", Price: 200, PaymentMode: &PaymentMode{UUID: "mode-cash", Name: "Cash"}},
		}},
	}
}

func TestFindWaiverPaymentMode(t *testing.T) {
	got := FindWaiverPaymentMode(testCatalog())
	if got == nil || *got != "mode-waiver" {
		t.Fatalf("expected mode-waiver, got %v", got)
	}
	if FindWaiverPaymentMode(nil) != nil {
		t.Error("expected nil for empty catalog")
	}
	unpriced := []BillableService{{Name: "x"}, {Name: "y", ServicePrices: []ServicePrice{{Price: 1}}}}
	if FindWaiverPaymentMode(unpriced) != nil {
		t.Error("expected nil when no price carries a payment mode")
	}
}

func waiverBill() (*MappedBill, []LineItem) {
	items := []LineItem{
		{UUID: "li1", Charge: ServiceCharge{BillableService: "Consultation"}, Quantity: 1, Price: 500, PaymentStatus: StatusPaid},
		{UUID: "li2", Charge: CommodityCharge{Item: "Paracetamol"}, Quantity: 2, Price: 12.345, PaymentStatus: StatusPending},
		{UUID: "li3", Charge: ServiceCharge{BillableService: "X-Ray"}, Quantity: 1, Price: 100, PaymentStatus: StatusPending},
	}
	b := Bill{
		UUID:      "b1",
		Patient:   &Ref{UUID: "p1"},
		Cashier:   &Ref{UUID: "c1"},
		CashPoint: &CashPoint{UUID: "cp1"},
		LineItems: items,
		Payments:  []Payment{{InstanceType: &PaymentMode{UUID: "mode-cash"}, Amount: 624.69, AmountTendered: 100}},
	}
	m := MapBillDetail(&b)
	return &m, items
}

func TestBuildWaiverPayload(t *testing.T) {
	bill, items := waiverBill()
	p := BuildWaiverPayload(bill, 99.999, 624.69, items, testCatalog())

	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CashPoint != "cp1" || p.Cashier != "c1" || p.Patient != "p1" {
		t.Errorf("unexpected header %+v", p)
	}
	if len(p.Payments) != 2 {
		t.Fatalf("expected existing + waiver payment, got %d", len(p.Payments))
	}
	if got := p.Payments[0].InstanceType; got == nil || *got != "mode-cash" {
		t.Errorf("expected existing payment kept with its mode, got %v", got)
	}
	w := p.WaiverPayment()
	if *w.InstanceType != "mode-waiver" {
		t.Errorf("expected mode-waiver, got %s", *w.InstanceType)
	}
	if w.Amount != 624.69 || w.AmountTendered != 100 {
		t.Errorf("expected rounded amounts 624.69/100, got %v/%v", w.Amount, w.AmountTendered)
	}

	if len(p.LineItems) != 3 {
		t.Fatalf("expected 3 line items, got %d", len(p.LineItems))
	}
	for _, li := range p.LineItems {
		if li.PaymentStatus != StatusPending {
			t.Errorf("%s: expected PENDING, got %s", li.UUID, li.PaymentStatus)
		}
	}
	if s := p.LineItems[0].BillableService; s == nil || *s != "svc-consult" {
		t.Errorf("expected consultation re-tagged to svc-consult, got %v", s)
	}
	if p.LineItems[1].BillableService != nil {
		t.Error("expected commodity line to have a null billableService")
	}
	if p.LineItems[2].BillableService != nil {
		t.Error("expected unmatched service to have a null billableService")
	}
	if items[0].PaymentStatus != StatusPaid {
		t.Error("expected input line items untouched")
	}
}

func TestBuildWaiverPayload_SerialisesNullService(t *testing.T) {
	bill, items := waiverBill()
	p := BuildWaiverPayload(bill, 10, 624.69, items, testCatalog())
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"billableService":null`) {
		t.Errorf("expected explicit null billableService in %s", data)
	}
	if !strings.Contains(string(data), `"item":"Paracetamol"`) {
		t.Errorf("expected commodity item kept in %s", data)
	}
}

func TestBuildWaiverPayload_NoWaiverMode(t *testing.T) {
	bill, items := waiverBill()
	p := BuildWaiverPayload(bill, 10, 624.69, items, []BillableService{{UUID: "s", Name: "Consultation"}})

	if p.WaiverPayment().InstanceType != nil {
		t.Error("expected nil instanceType without a priced service")
	}
	if err := p.Validate(); !errors.Is(err, ErrWaiverModeNotFound) {
		t.Errorf("expected ErrWaiverModeNotFound, got %v", err)
	}
}

func TestBuildWaiverPayload_MissingOptionalFields(t *testing.T) {
	p := BuildWaiverPayload(&MappedBill{}, 0, 0, nil, nil)
	if p.Cashier != "" || len(p.LineItems) != 0 || len(p.Payments) != 1 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestRoundAmount(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{2.125, 2.13},
		{2.344, 2.34},
		{-2.125, -2.13},
		{99.999, 100},
		{100, 100},
	}
	for _, tt := range tests {
		if got := RoundAmount(tt.in); got != tt.want {
			t.Errorf("RoundAmount(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
