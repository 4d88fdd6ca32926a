package billing

import (
	"sort"
	"strings"
	"time"
)

// DeriveBillStatus returns PENDING if any line item is pending, PAID otherwise.
// A bill without line items has nothing pending and is reported as PAID.
func DeriveBillStatus(items []LineItem) PaymentStatus {
	for _, li := range items {
		if li.PaymentStatus == StatusPending {
			return StatusPending
		}
	}
	return StatusPaid
}

// ResolveBillStatus is the status rule of the single-bill view: bills with
// more than one line item use the derived status, smaller bills trust the
// status stored on the bill. An empty stored status falls back to the
// derived one. The list view always derives; StatusSource records which rule
// applied.
func ResolveBillStatus(b *Bill) (PaymentStatus, StatusSource) {
	if len(b.LineItems) > 1 || b.Status == "" {
		return DeriveBillStatus(b.LineItems), StatusDerived
	}
	return b.Status, StatusStored
}

// ComputeTotalAmount sums quantity*price. Values are taken as-is from the
// backend, negative ones included.
func ComputeTotalAmount(items []LineItem) float64 {
	var total float64
	for _, li := range items {
		total += li.Total()
	}
	return total
}

// ComputeTenderedAmount sums amountTendered over all payments.
func ComputeTenderedAmount(payments []Payment) float64 {
	var total float64
	for _, p := range payments {
		total += p.AmountTendered
	}
	return total
}

// MapBill builds the list view of a bill, with the derived status.
func MapBill(b *Bill) MappedBill {
	m := mapBill(b)
	m.Status = DeriveBillStatus(b.LineItems)
	m.StatusSource = StatusDerived
	return m
}

// MapBillDetail builds the single-bill view, using ResolveBillStatus.
func MapBillDetail(b *Bill) MappedBill {
	m := mapBill(b)
	m.Status, m.StatusSource = ResolveBillStatus(b)
	return m
}

func mapBill(b *Bill) MappedBill {
	m := MappedBill{
		ID:             b.ID,
		UUID:           b.UUID,
		PatientName:    b.PatientName(),
		Identifier:     b.PatientIdentifier(),
		ReceiptNumber:  b.ReceiptNumber,
		Cashier:        b.Cashier,
		DateCreated:    "--",
		LineItems:      append([]LineItem(nil), b.LineItems...),
		Payments:       append([]Payment(nil), b.Payments...),
		Display:        b.Display,
		TotalAmount:    ComputeTotalAmount(b.LineItems),
		TenderedAmount: ComputeTenderedAmount(b.Payments),
	}
	if b.Patient != nil {
		m.PatientUUID = b.Patient.UUID
	}
	if b.CashPoint != nil {
		m.CashPointUUID = b.CashPoint.UUID
		m.CashPointName = b.CashPoint.Name
		if b.CashPoint.Location != nil {
			m.CashPointLocation = b.CashPoint.Location.Display
		}
	}
	if b.DateCreated != nil && *b.DateCreated != "" {
		m.DateCreated = *b.DateCreated
		if t, err := ParseTimestamp(*b.DateCreated); err == nil {
			m.CreatedAt = &t
		}
	}

	names := make([]string, 0, len(b.LineItems))
	for _, li := range b.LineItems {
		names = append(names, li.DisplayName())
	}
	m.BillingService = strings.Join(names, "  ")
	return m
}

// ListOptions narrows a bill list.
type ListOptions struct {
	// Status keeps only bills with this derived status. Empty keeps all.
	Status PaymentStatus
	// Day keeps only bills created on this calendar day, in Day's location.
	Day *time.Time
}

// MapBills maps raw bills newest first and applies the list options. The
// input slice is left untouched.
func MapBills(bills []Bill, opts ListOptions) []MappedBill {
	mapped := make([]MappedBill, 0, len(bills))
	for i := range bills {
		m := MapBill(&bills[i])
		if opts.Status != "" && m.Status != opts.Status {
			continue
		}
		mapped = append(mapped, m)
	}

	sort.SliceStable(mapped, func(i, j int) bool {
		a, b := mapped[i].CreatedAt, mapped[j].CreatedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	if opts.Day != nil {
		mapped = FilterByDay(mapped, *opts.Day)
	}
	return mapped
}

// FilterByDateRange keeps bills created within [start, end]. A bill in the
// same minute as either bound is kept even if it is a few seconds outside.
// Bills without a parseable creation time are dropped.
func FilterByDateRange(bills []MappedBill, start, end time.Time) []MappedBill {
	out := make([]MappedBill, 0, len(bills))
	for _, b := range bills {
		if b.CreatedAt == nil {
			continue
		}
		if withinRange(*b.CreatedAt, start, end) {
			out = append(out, b)
		}
	}
	return out
}

// FilterByDay keeps bills created between the start and end of day's date.
func FilterByDay(bills []MappedBill, day time.Time) []MappedBill {
	start, end := DayBounds(day)
	return FilterByDateRange(bills, start, end)
}

// DayBounds returns the first and last nanosecond of t's calendar day.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func withinRange(t, start, end time.Time) bool {
	if t.After(start) && t.Before(end) {
		return true
	}
	m := t.Truncate(time.Minute)
	return m.Equal(start.Truncate(time.Minute)) || m.Equal(end.Truncate(time.Minute))
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the backend's date formats.
func ParseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// PendingLineItems returns the line items still owed by a patient: items not
// PAID on bills whose derived status is not PAID.
func PendingLineItems(bills []Bill) []LineItem {
	var out []LineItem
	for _, b := range bills {
		if DeriveBillStatus(b.LineItems) == StatusPaid {
			continue
		}
		for _, li := range b.LineItems {
			if li.PaymentStatus != StatusPaid {
				out = append(out, li)
			}
		}
	}
	return out
}
