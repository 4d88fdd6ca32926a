package billing

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// ReportRow is one line of the billing report.
type ReportRow struct {
	Date        string        `json:"date"`
	Identifier  string        `json:"identifier"`
	Name        string        `json:"name"`
	BilledItems string        `json:"billed_items"`
	Amount      string        `json:"amount"`
	Status      PaymentStatus `json:"status"`
	Mode        string        `json:"mode"`
}

// BuildReport lists the bills created in [start, end], in input order.
func BuildReport(bills []Bill, start, end time.Time) []ReportRow {
	rows := []ReportRow{}
	for i := range bills {
		b := &bills[i]
		m := MapBill(b)
		if m.CreatedAt == nil || !withinRange(*m.CreatedAt, start, end) {
			continue
		}
		row := ReportRow{
			Date:        m.CreatedAt.Format("02-Jan-2006"),
			Identifier:  m.Identifier,
			Name:        m.PatientName,
			BilledItems: billedItems(b.LineItems),
			Status:      m.Status,
			Mode:        paymentModeSummary(b.Payments),
		}
		if len(b.Payments) > 0 {
			row.Amount = formatAmount(b.Payments[0].Amount)
		}
		rows = append(rows, row)
	}
	return rows
}

func billedItems(items []LineItem) string {
	parts := make([]string, 0, len(items))
	for _, li := range items {
		switch c := li.Charge.(type) {
		case CommodityCharge:
			if c.Item != "" && li.Quantity > 0 {
				parts = append(parts, fmt.Sprintf("%s(%d)", c.Item, li.Quantity))
			}
		case ServiceCharge:
			if c.BillableService != "" {
				parts = append(parts, c.BillableService)
			}
		}
	}
	return strings.Join(parts, ", ")
}

func paymentModeSummary(payments []Payment) string {
	name := func(p Payment) string {
		if p.InstanceType == nil {
			return ""
		}
		return p.InstanceType.Name
	}
	switch len(payments) {
	case 0:
		return ""
	case 1:
		return name(payments[0])
	}
	parts := make([]string, 0, len(payments))
	for _, p := range payments {
		parts = append(parts, fmt.Sprintf("%s (%s)", name(p), formatAmount(p.AmountTendered)))
	}
	return strings.Join(parts, " & ")
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount prints v with thousands separators and at most two decimals.
func formatAmount(v float64) string {
	return amountPrinter.Sprint(number.Decimal(RoundAmount(v), number.MaxFractionDigits(2)))
}

// OutstandingItem is a line item the patient still has to settle.
type OutstandingItem struct {
	UUID     string  `json:"uuid"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Total    float64 `json:"total"`
}

// Outstanding is the pending-bill prompt shown before care.
type Outstanding struct {
	PatientUUID string            `json:"patient_uuid"`
	Items       []OutstandingItem `json:"items"`
	Total       float64           `json:"total"`
	Currency    string            `json:"currency,omitempty"`
	Enforce     bool              `json:"enforce_bill_payment"`
}

// BuildOutstanding collects the unpaid line items across a patient's bills.
func BuildOutstanding(patientUUID string, bills []Bill) Outstanding {
	out := Outstanding{PatientUUID: patientUUID, Items: []OutstandingItem{}}
	for _, li := range PendingLineItems(bills) {
		out.Items = append(out.Items, OutstandingItem{
			UUID:     li.UUID,
			Name:     li.DisplayName(),
			Quantity: li.Quantity,
			Price:    li.Price,
			Total:    li.Total(),
		})
		out.Total += li.Total()
	}
	return out
}
