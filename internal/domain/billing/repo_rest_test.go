package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cashier/internal/platform/cache"
	"github.com/ehr/cashier/internal/platform/openmrs"
)

type recordedRequest struct {
	method, path, query string
	body                []byte
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/ws/rest/v1/")

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{r.Method, path, r.URL.RawQuery, body})
	resp, ok := f.routes[r.Method+" "+path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"Object with given uuid doesn't exist"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(resp))
}

func (f *fakeBackend) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeBackend) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.method == method && r.path == path {
			n++
		}
	}
	return n
}

func newRESTRepos(t *testing.T, routes map[string]string) (BillRepository, CatalogRepository, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{routes: routes}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client := openmrs.New(srv.URL+"/ws/rest/v1", openmrs.WithCache(cache.NewMemoryStore(), time.Minute))
	return NewRESTBillRepo(client), NewRESTCatalogRepo(client), backend
}

func TestRESTBillRepo_ListBillsFollowsPages(t *testing.T) {
	var srvURL string
	backend := &fakeBackend{routes: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("startIndex") == "" {
			backend.routes["GET billing/bill"] = `{"results":[{"uuid":"b1","lineItems":[{"billableService":"Consultation","quantity":1,"price":500,"paymentStatus":"PAID"}]}],` +
				`"links":[{"rel":"next","uri":"` + srvURL + `/ws/rest/v1/billing/bill?v=full&q=&startIndex=50"}]}`
		} else {
			backend.routes["GET billing/bill"] = `{"results":[{"uuid":"b2","lineItems":[]}]}`
		}
		backend.ServeHTTP(w, r)
	}))
	defer srv.Close()
	srvURL = srv.URL

	repo := NewRESTBillRepo(openmrs.New(srv.URL + "/ws/rest/v1"))
	bills, err := repo.ListBills(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bills) != 2 || bills[0].UUID != "b1" || bills[1].UUID != "b2" {
		t.Fatalf("unexpected bills %+v", bills)
	}
	if _, ok := bills[0].LineItems[0].Charge.(ServiceCharge); !ok {
		t.Errorf("expected service charge, got %T", bills[0].LineItems[0].Charge)
	}
	if !strings.Contains(backend.requests[0].query, "v=full") {
		t.Errorf("expected full representation, got %q", backend.requests[0].query)
	}
}

func TestRESTBillRepo_ListPatientBills(t *testing.T) {
	repo, _, backend := newRESTRepos(t, map[string]string{"GET billing/bill": `{"results":[]}`})
	if _, err := repo.ListBills(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q := backend.last().query; !strings.Contains(q, "patientUuid=p1") || !strings.Contains(q, "v=full") {
		t.Errorf("unexpected query %q", q)
	}
}

func TestRESTBillRepo_GetBillNotFound(t *testing.T) {
	repo, _, _ := newRESTRepos(t, map[string]string{})
	if _, err := repo.GetBill(context.Background(), uuid.NewString()); !errors.Is(err, ErrBillNotFound) {
		t.Errorf("expected ErrBillNotFound, got %v", err)
	}
}

func TestRESTBillRepo_UpdateInvalidatesBillReads(t *testing.T) {
	id := uuid.NewString()
	repo, _, backend := newRESTRepos(t, map[string]string{
		"GET billing/bill/" + id:  `{"uuid":"` + id + `","status":"PENDING","lineItems":[]}`,
		"POST billing/bill/" + id: `{}`,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := repo.GetBill(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := backend.count(http.MethodGet, "billing/bill/"+id); n != 1 {
		t.Fatalf("expected cached read, got %d backend calls", n)
	}

	if err := repo.UpdateBill(ctx, id, &BillPayload{Patient: "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sent BillPayload
	json.Unmarshal(backend.last().body, &sent)
	if sent.Patient != "p1" {
		t.Errorf("unexpected body %s", backend.last().body)
	}

	if _, err := repo.GetBill(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := backend.count(http.MethodGet, "billing/bill/"+id); n != 2 {
		t.Errorf("expected refetch after update, got %d backend calls", n)
	}
}

func TestRESTCatalogRepo_CreateServiceInvalidatesList(t *testing.T) {
	_, repo, backend := newRESTRepos(t, map[string]string{
		"GET billing/billableService":       `{"results":[{"uuid":"s1","name":"Lab","servicePrices":[]}]}`,
		"POST billing/api/billable-service": `{}`,
	})
	ctx := context.Background()

	if _, err := repo.ListServices(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.CreateService(ctx, &BillableService{Name: "Dental"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.ListServices(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := backend.count(http.MethodGet, "billing/billableService"); n != 2 {
		t.Errorf("expected service list refetched after create, got %d calls", n)
	}
}

func TestRESTCatalogRepo_Commodities(t *testing.T) {
	id := uuid.NewString()
	_, repo, backend := newRESTRepos(t, map[string]string{
		"GET billing/cashierItemPrice":          `{"results":[{"uuid":"` + id + `","name":"Cash","item":"Paracetamol","price":10}]}`,
		"POST billing/cashierItemPrice":         `{}`,
		"DELETE billing/cashierItemPrice/" + id: ``,
	})
	ctx := context.Background()

	items, err := repo.ListCommodities(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 commodity, got %v (err %v)", items, err)
	}

	item := &CashierItem{Name: "Cash", Item: "s1", Price: 10, PaymentMode: &PaymentMode{UUID: "m1", Name: "Cash"}}
	if err := repo.CreateCommodity(ctx, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := string(backend.last().body)
	if !strings.Contains(body, `"paymentMode":{"uuid":"m1","name":"Cash"}`) {
		t.Errorf("unexpected body %s", body)
	}

	if err := repo.DeleteCommodity(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.ListCommodities(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := backend.count(http.MethodGet, "billing/cashierItemPrice"); n != 2 {
		t.Errorf("expected refetch after the mutations, got %d calls", n)
	}
}

func TestRESTCatalogRepo_Searches(t *testing.T) {
	_, repo, backend := newRESTRepos(t, map[string]string{
		"GET stockmanagement/stockitem": `{"results":[{"uuid":"s1","drugName":"Paracetamol","purchasePrice":12}]}`,
		"GET billing/billableService":   `{"results":[{"uuid":"svc","name":"Lab"}]}`,
		"GET conceptsearch":             `{"results":[{"display":"Malaria smear","concept":{"uuid":"c1","display":"Malaria smear"}},{"display":"orphan"}]}`,
	})
	ctx := context.Background()

	stock, err := repo.SearchStockItems(ctx, "para")
	if err != nil || len(stock) != 1 || stock[0].PurchasePrice != 12 {
		t.Fatalf("unexpected stock %v (err %v)", stock, err)
	}
	if q := backend.last().query; !strings.Contains(q, "q=para") || !strings.Contains(q, "limit=10") {
		t.Errorf("unexpected stock query %q", q)
	}

	if _, err := repo.SearchServices(ctx, "lab"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q := backend.last().query; !strings.Contains(q, "serviceName=lab") {
		t.Errorf("unexpected service query %q", q)
	}

	concepts, err := repo.SearchConcepts(ctx, "malaria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(concepts) != 1 || concepts[0].UUID != "c1" {
		t.Errorf("expected hits without a concept skipped, got %+v", concepts)
	}
}

func TestRESTCatalogRepo_BackendErrorMessage(t *testing.T) {
	_, repo, _ := newRESTRepos(t, map[string]string{})
	err := repo.UpdateService(context.Background(), "svc", &BillableService{Name: "Lab"})
	var apiErr *openmrs.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "Object with given uuid doesn't exist" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}
