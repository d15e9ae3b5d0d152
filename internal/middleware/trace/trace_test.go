package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"kasa/internal/log"
)

func TestMiddlewareRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelDebug, Format: "json", Output: &buf})
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.1" }, logger)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set(RequestIDHeader, "client-abc")
	h.ServeHTTP(rr, req)

	assert.Equal(t, "client-abc", seen)
	assert.Equal(t, "client-abc", rr.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"status_code":418`)
	assert.Contains(t, buf.String(), `"client_ip":"10.0.0.1"`)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces")
	h.ServeHTTP(rr, req)
	assert.True(t, strings.HasPrefix(seen, "req_"), "got %q", seen)
}

func TestMiddlewareMetrics(t *testing.T) {
	m := NewMiddleware(nil, nil)
	codes := []int{200, 404, 500, 201}
	for _, code := range codes {
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	got := m.GetMetrics()
	assert.EqualValues(t, 4, got.TotalRequests)
	assert.EqualValues(t, 1, got.ClientErrors)
	assert.EqualValues(t, 1, got.ServerErrors)
	assert.GreaterOrEqual(t, got.AverageResponseTime, int64(0))
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("req_")+16)
}
