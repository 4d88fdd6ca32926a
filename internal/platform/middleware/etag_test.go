package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func etagServer(config ETagConfig, body *string) *echo.Echo {
	e := echo.New()
	e.Use(ETag(config))
	e.GET("/api/v1/bills", func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(*body))
	})
	e.POST("/api/v1/bills/:uuid", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/api/v1/bills/:uuid", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "bill not found"})
	})
	e.GET("/api/v1/search/billable-items", func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(*body))
	})
	return e
}

func get(e *echo.Echo, target, ifNoneMatch string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestETag_SetsHeaders(t *testing.T) {
	body := `{"data":[],"total":0}`
	e := etagServer(DefaultETagConfig(), &body)

	rec := get(e, "/api/v1/bills", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected ETag header")
	}
	if got := rec.Header().Get("Cache-Control"); got != "private, no-cache" {
		t.Errorf("expected private, no-cache, got %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Accept" {
		t.Errorf("expected Vary Accept, got %q", got)
	}
	if rec.Body.String() != body {
		t.Errorf("expected body passed through, got %s", rec.Body.String())
	}
}

func TestETag_NotModifiedOnMatch(t *testing.T) {
	body := `{"data":[{"uuid":"b1"}],"total":1}`
	e := etagServer(DefaultETagConfig(), &body)
	etag := get(e, "/api/v1/bills", "").Header().Get("ETag")

	for _, inm := range []string{etag, "W/" + etag, `"other", ` + etag, "*"} {
		rec := get(e, "/api/v1/bills", inm)
		if rec.Code != http.StatusNotModified {
			t.Errorf("If-None-Match %s: expected 304, got %d", inm, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("If-None-Match %s: expected empty body, got %s", inm, rec.Body.String())
		}
	}
}

func TestETag_ChangedBodyIsSentAgain(t *testing.T) {
	body := `{"data":[{"uuid":"b1","status":"PENDING"}]}`
	e := etagServer(DefaultETagConfig(), &body)
	before := get(e, "/api/v1/bills", "").Header().Get("ETag")

	body = `{"data":[{"uuid":"b1","status":"PAID"}]}`
	rec := get(e, "/api/v1/bills", before)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after the bill changed, got %d", rec.Code)
	}
	if rec.Header().Get("ETag") == before {
		t.Error("expected a new ETag for the new body")
	}
}

func TestETag_MaxAge(t *testing.T) {
	body := `{}`
	e := etagServer(ETagConfig{MaxAge: 30}, &body)
	if got := get(e, "/api/v1/bills", "").Header().Get("Cache-Control"); got != "private, max-age=30" {
		t.Errorf("expected private, max-age=30, got %q", got)
	}
}

func TestETag_SkipsErrorsWritesAndSkippedPaths(t *testing.T) {
	body := `{"results":[]}`
	config := DefaultETagConfig()
	config.SkipPrefixes = []string{"/api/v1/search/"}
	e := etagServer(config, &body)

	rec := get(e, "/api/v1/bills/missing", "")
	if rec.Code != http.StatusNotFound || rec.Header().Get("ETag") != "" {
		t.Errorf("expected untagged 404, got %d with ETag %q", rec.Code, rec.Header().Get("ETag"))
	}
	if rec.Body.Len() == 0 {
		t.Error("expected error body passed through")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/b1", nil)
	post := httptest.NewRecorder()
	e.ServeHTTP(post, req)
	if post.Code != http.StatusNoContent || post.Header().Get("ETag") != "" {
		t.Errorf("expected untagged 204, got %d with ETag %q", post.Code, post.Header().Get("ETag"))
	}

	if got := get(e, "/api/v1/search/billable-items", "").Header().Get("ETag"); got != "" {
		t.Errorf("expected skipped path untagged, got %q", got)
	}
}

func TestETagMatch(t *testing.T) {
	tests := []struct {
		header, etag string
		want         bool
	}{
		{`"abc"`, `"abc"`, true},
		{`W/"abc"`, `"abc"`, true},
		{`"x", "abc"`, `"abc"`, true},
		{`*`, `"abc"`, true},
		{`"abd"`, `"abc"`, false},
		{``, `"abc"`, false},
	}
	for _, tt := range tests {
		if got := etagMatch(tt.header, tt.etag); got != tt.want {
			t.Errorf("etagMatch(%q, %q): expected %v, got %v", tt.header, tt.etag, tt.want, got)
		}
	}
}
