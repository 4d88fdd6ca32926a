package billing

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterServices keeps services where any displayed field contains q,
// case-insensitively. A blank q keeps everything.
func FilterServices(services []BillableService, q string) []BillableService {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return services
	}
	out := []BillableService{}
	for _, s := range services {
		fields := []string{s.Name, s.ShortName, s.ServiceStatus}
		if s.ServiceType != nil {
			fields = append(fields, s.ServiceType.Display)
		}
		for _, p := range s.ServicePrices {
			fields = append(fields, p.Name, strconv.FormatFloat(p.Price, 'f', -1, 64))
		}
		if containsAny(fields, q) {
			out = append(out, s)
		}
	}
	return out
}

// BillableCommodities drops entries without a stock item and keeps those
// matching q like FilterServices does.
func BillableCommodities(items []CashierItem, q string) []CashierItem {
	q = strings.ToLower(strings.TrimSpace(q))
	out := []CashierItem{}
	for _, it := range items {
		if strings.TrimSpace(it.Item) == "" {
			continue
		}
		if q != "" {
			fields := []string{it.Name, it.Item, strconv.FormatFloat(it.Price, 'f', -1, 64)}
			if it.PaymentMode != nil {
				fields = append(fields, it.PaymentMode.Name)
			}
			if !containsAny(fields, q) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func containsAny(fields []string, q string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// StockSearchOptions turns stock items into cart candidates. Drugs are priced
// at their purchase price; other stock items at zero.
func StockSearchOptions(items []StockItem) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		opt := CartItem{UUID: it.UUID, Name: it.CommonName, Category: CategoryCommodity, Quantity: 1}
		if it.DrugName != "" {
			opt.Name = it.DrugName
			opt.Price = it.PurchasePrice
		}
		opt.Total = opt.Price
		out = append(out, opt)
	}
	return out
}

// ServiceSearchOptions turns billable services into cart candidates priced at
// their first service price, or zero without one.
func ServiceSearchOptions(services []BillableService) []CartItem {
	out := make([]CartItem, 0, len(services))
	for _, s := range services {
		opt := CartItem{UUID: s.UUID, Name: s.Name, Category: CategoryService, Quantity: 1}
		if len(s.ServicePrices) > 0 {
			opt.Price = s.ServicePrices[0].Price
		}
		opt.Total = opt.Price
		out = append(out, opt)
	}
	return out
}

// ValidateService checks a billable service before it is created or updated.
func ValidateService(s *BillableService) error {
	v := &ValidationError{}
	if strings.TrimSpace(s.Name) == "" {
		v.add("name", "service name is required")
	}
	validatePrices(v, s.ServicePrices)
	return v.err()
}

func validatePrices(v *ValidationError, prices []ServicePrice) {
	if len(prices) == 0 {
		v.add("servicePrices", "at least one payment option is required")
	}
	for i, p := range prices {
		if p.PaymentMode == nil || p.PaymentMode.UUID == "" {
			v.add(fmt.Sprintf("servicePrices[%d].paymentMode", i), "payment method is required")
		}
		if p.Price == 0 {
			v.add(fmt.Sprintf("servicePrices[%d].price", i), "price is required")
		}
	}
}

// ValidateCommodity checks a billable commodity before it is saved.
func ValidateCommodity(c *CashierItem) error {
	v := &ValidationError{}
	if strings.TrimSpace(c.Item) == "" {
		v.add("item", "please select a commodity before submitting")
	}
	if c.PaymentMode == nil || c.PaymentMode.UUID == "" {
		v.add("paymentMode", "payment method is required")
	}
	if c.Price == 0 {
		v.add("price", "price is required")
	}
	return v.err()
}

// NameCommodity fills the commodity's name from its payment mode, the way
// the backend expects cashier item prices to be labelled.
func NameCommodity(c *CashierItem, modes []PaymentMode) {
	if c.PaymentMode == nil {
		return
	}
	for _, m := range modes {
		if m.UUID == c.PaymentMode.UUID {
			c.PaymentMode.Name = m.Name
			if c.Name == "" {
				c.Name = m.Name
			}
			return
		}
	}
	if c.Name == "" {
		c.Name = "Unknown"
	}
}
