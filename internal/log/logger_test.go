package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Format: "json", Component: ComponentLedger, Output: &buf})

	logger.Info("hello", FieldUsername, "anna")
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, ComponentLedger, entry[FieldComponent])
	assert.Equal(t, "anna", entry[FieldUsername])
}

func TestWithComponentReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	root := New(Config{Format: "json", Output: &buf})
	root.WithComponent(ComponentAuth).Info("x")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"component"`)))
	assert.Contains(t, buf.String(), `"component":"auth"`)
	assert.Equal(t, ComponentAuth, root.WithComponent(ComponentAuth).Component())
}

func TestMiddlewareStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})

	var got *Logger
	h := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = FromContext(r.Context())
			got.Info("inside")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestFromContextDefault(t *testing.T) {
	assert.Equal(t, "unknown", FromContext(context.Background()).Component())
}

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf}))

	r := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	sl.LogHTTPEnd(context.Background(), r, http.StatusNotFound, 3, "127.0.0.1")
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	sl.LogError(context.Background(), "boom", errors.New("bad"), OpEdit, nil)
	assert.Contains(t, buf.String(), `"error":"bad"`)
	assert.Contains(t, buf.String(), `"operation":"edit"`)
}
