package billing

import "context"

// BillRepository reads and writes bills on the backend.
type BillRepository interface {
	// ListBills returns all bills, or a single patient's bills when
	// patientUUID is not empty.
	ListBills(ctx context.Context, patientUUID string) ([]Bill, error)
	GetBill(ctx context.Context, uuid string) (*Bill, error)
	CreateBill(ctx context.Context, payload *BillPayload) (*Bill, error)
	// UpdateBill posts a full bill update, used for payments and waivers.
	UpdateBill(ctx context.Context, uuid string, payload interface{}) error
}

// CatalogRepository reads and writes what can be billed.
type CatalogRepository interface {
	ListServices(ctx context.Context) ([]BillableService, error)
	CreateService(ctx context.Context, svc *BillableService) error
	UpdateService(ctx context.Context, uuid string, svc *BillableService) error
	ListCommodities(ctx context.Context) ([]CashierItem, error)
	CreateCommodity(ctx context.Context, item *CashierItem) error
	UpdateCommodity(ctx context.Context, uuid string, item *CashierItem) error
	DeleteCommodity(ctx context.Context, uuid string) error
	ListPaymentModes(ctx context.Context) ([]PaymentMode, error)
	SearchStockItems(ctx context.Context, q string) ([]StockItem, error)
	SearchServices(ctx context.Context, q string) ([]BillableService, error)
	SearchConcepts(ctx context.Context, q string) ([]Concept, error)
}
