package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ItemCategory tells whether a cart item is a stock commodity or a service.
type ItemCategory string

const (
	CategoryCommodity ItemCategory = "Commodity"
	CategoryService   ItemCategory = "Service"
)

// CartItem is one row of the billing form.
type CartItem struct {
	UUID     string       `json:"uuid"`
	Name     string       `json:"name"`
	Category ItemCategory `json:"category"`
	Quantity int          `json:"quantity"`
	Price    float64      `json:"price"`
	Total    float64      `json:"total"`
}

// Cart is a bill being assembled before submission. Its methods return a new
// Cart and never modify the receiver's items.
type Cart struct {
	ID           uuid.UUID  `json:"id"`
	PatientUUID  string     `json:"patient_uuid"`
	Items        []CartItem `json:"items"`
	GrandTotal   float64    `json:"grand_total"`
	SaveDisabled bool       `json:"save_disabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewCart starts an empty cart for a patient.
func NewCart(patientUUID string) Cart {
	now := time.Now().UTC()
	return Cart{
		ID:          uuid.New(),
		PatientUUID: patientUUID,
		Items:       []CartItem{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MergeBillItem adds item to items. An existing entry with the same uuid has
// its quantity raised by one; otherwise the item is appended with quantity 1.
func MergeBillItem(items []CartItem, item CartItem) []CartItem {
	out := make([]CartItem, len(items), len(items)+1)
	copy(out, items)
	for i := range out {
		if out[i].UUID == item.UUID {
			out[i].Quantity++
			out[i].Total = float64(out[i].Quantity) * out[i].Price
			return out
		}
	}
	item.Quantity = 1
	item.Total = item.Price
	return append(out, item)
}

// GrandTotal sums the line totals.
func GrandTotal(items []CartItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Total
	}
	return total
}

func (c Cart) with(items []CartItem) Cart {
	c.Items = items
	c.GrandTotal = GrandTotal(items)
	c.SaveDisabled = false
	for _, it := range items {
		if it.Quantity <= 0 {
			c.SaveDisabled = true
			break
		}
	}
	c.UpdatedAt = time.Now().UTC()
	return c
}

// Add merges item into the cart.
func (c Cart) Add(item CartItem) Cart {
	return c.with(MergeBillItem(c.Items, item))
}

// Remove drops the item with the given uuid. Unknown uuids leave the cart as is.
func (c Cart) Remove(itemUUID string) Cart {
	items := make([]CartItem, 0, len(c.Items))
	found := false
	for _, it := range c.Items {
		if it.UUID == itemUUID {
			found = true
			continue
		}
		items = append(items, it)
	}
	if !found {
		return c
	}
	return c.with(items)
}

// SetQuantity stores quantity as given, even when it is not positive. A non
// positive quantity on any item sets SaveDisabled instead of being rejected.
func (c Cart) SetQuantity(itemUUID string, quantity int) Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	for i := range items {
		if items[i].UUID == itemUUID {
			items[i].Quantity = quantity
			items[i].Total = float64(quantity) * items[i].Price
		}
	}
	return c.with(items)
}

// Validate checks the cart can be submitted.
func (c Cart) Validate() error {
	v := &ValidationError{}
	if c.PatientUUID == "" {
		v.add("patient_uuid", "patient is required")
	}
	if len(c.Items) == 0 {
		v.add("items", "at least one item is required")
	}
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			v.add(fmt.Sprintf("items[%s].quantity", it.UUID), "quantity must be at least one for all items")
		}
	}
	return v.err()
}

// PostBillOptions are the facility settings stamped on new bills.
type PostBillOptions struct {
	CashPoint string
	Cashier   string
	PriceUUID string
}

// BillPayload creates a bill on the backend.
type BillPayload struct {
	CashPoint string            `json:"cashPoint"`
	Cashier   string            `json:"cashier"`
	LineItems []LineItemPayload `json:"lineItems"`
	Payments  []PaymentPayload  `json:"payments"`
	Patient   string            `json:"patient"`
	Status    PaymentStatus     `json:"status,omitempty"`
}

// BillPayload converts a valid cart into a PENDING bill.
func (c Cart) BillPayload(opts PostBillOptions) (*BillPayload, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	bill := &BillPayload{
		CashPoint: opts.CashPoint,
		Cashier:   opts.Cashier,
		LineItems: make([]LineItemPayload, 0, len(c.Items)),
		Payments:  []PaymentPayload{},
		Patient:   c.PatientUUID,
		Status:    StatusPending,
	}
	for _, it := range c.Items {
		id := it.UUID
		li := LineItemPayload{
			Quantity:      it.Quantity,
			Price:         it.Price,
			PriceName:     "Default",
			PriceUUID:     opts.PriceUUID,
			LineItemOrder: 0,
			PaymentStatus: StatusPending,
		}
		if it.Category == CategoryCommodity {
			li.Item = &id
		} else {
			li.BillableService = &id
		}
		bill.LineItems = append(bill.LineItems, li)
	}
	return bill, nil
}
