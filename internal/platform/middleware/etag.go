package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ETagConfig configures ETag.
type ETagConfig struct {
	// MaxAge is the Cache-Control max-age in seconds. Zero makes clients
	// revalidate on every use, which suits bills that change on payment.
	MaxAge       int
	Vary         []string
	SkipPrefixes []string
}

func DefaultETagConfig() ETagConfig {
	return ETagConfig{Vary: []string{"Accept"}}
}

// bodyRecorder holds the handler's response until the ETag is known.
type bodyRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bodyRecorder) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *bodyRecorder) WriteHeader(code int) { w.status = code }

func (w *bodyRecorder) Flush() {}

func (w *bodyRecorder) flush() error {
	w.ResponseWriter.WriteHeader(w.status)
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf.Bytes())
	return err
}

// ETag tags successful GET responses with a hash of their body and answers
// a matching If-None-Match with 304, so screens polling a bill list only
// download it again after it changed. Responses are marked private: they
// carry patient data.
func ETag(config ETagConfig) echo.MiddlewareFunc {
	cacheControl := "private, no-cache"
	if config.MaxAge > 0 {
		cacheControl = fmt.Sprintf("private, max-age=%d", config.MaxAge)
	}
	vary := strings.Join(config.Vary, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet {
				return next(c)
			}
			for _, prefix := range config.SkipPrefixes {
				if strings.HasPrefix(req.URL.Path, prefix) {
					return next(c)
				}
			}

			res := c.Response()
			orig := res.Writer
			rec := &bodyRecorder{ResponseWriter: orig, status: http.StatusOK}
			res.Writer = rec
			err := next(c)
			res.Writer = orig
			if err != nil {
				return err
			}
			if rec.status < 200 || rec.status > 299 {
				return rec.flush()
			}

			etag := computeETag(rec.buf.Bytes())
			h := res.Header()
			h.Set("ETag", etag)
			h.Set("Cache-Control", cacheControl)
			if vary != "" {
				h.Set("Vary", vary)
			}

			if inm := req.Header.Get("If-None-Match"); inm != "" && etagMatch(inm, etag) {
				h.Del("Content-Type")
				h.Del("Content-Length")
				res.Status = http.StatusNotModified
				orig.WriteHeader(http.StatusNotModified)
				return nil
			}
			return rec.flush()
		}
	}
}

func computeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatch compares an If-None-Match value against etag using the weak
// comparison If-None-Match calls for. It accepts lists and "*".
func etagMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
