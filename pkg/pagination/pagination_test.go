package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("/")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
	if p.Page() != 1 {
		t.Errorf("expected page 1, got %d", p.Page())
	}
}

func TestFromContext_PageAndSize(t *testing.T) {
	p := paramsFor("/?page=3&page_size=20")
	if p.Limit != 20 || p.Offset != 40 {
		t.Errorf("expected limit 20 offset 40, got %+v", p)
	}
	if p.Page() != 3 {
		t.Errorf("expected page 3, got %d", p.Page())
	}
}

func TestFromContext_LimitOffset(t *testing.T) {
	p := paramsFor("/?limit=5&offset=15")
	if p.Limit != 5 || p.Offset != 15 {
		t.Errorf("expected limit 5 offset 15, got %+v", p)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	p := paramsFor("/?limit=1000&offset=-4")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	r := Slice(items, Params{Limit: 3, Offset: 3})
	if len(r.Data) != 3 || r.Data[0] != 4 {
		t.Errorf("expected [4 5 6], got %v", r.Data)
	}
	if r.Total != 7 || r.Pages != 3 || r.Page != 2 || !r.HasMore {
		t.Errorf("unexpected page metadata %+v", r)
	}

	last := Slice(items, Params{Limit: 3, Offset: 6})
	if len(last.Data) != 1 || last.HasMore {
		t.Errorf("expected last page [7], got %+v", last)
	}

	past := Slice(items, Params{Limit: 3, Offset: 30})
	if len(past.Data) != 0 {
		t.Errorf("expected empty page, got %v", past.Data)
	}

	empty := Slice([]int{}, Params{Limit: 10})
	if empty.Pages != 0 || empty.Data == nil {
		t.Errorf("expected empty non-nil page, got %+v", empty)
	}
}
