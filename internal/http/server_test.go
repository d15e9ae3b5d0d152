package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasa/internal/auth"
	"kasa/internal/core"
	"kasa/internal/log"
	"kasa/internal/services"
	"kasa/internal/storage"
	"kasa/internal/storage/memory"
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store := memory.New()
	locks := services.NewUserLocks()
	ledger := services.NewLedgerService(store,
		services.WithLocks(locks),
		services.WithClock(func() time.Time { return fixedNow }))
	authSvc := services.NewAuthService(store, locks)
	tokens := auth.NewTokenIssuer("test-secret-with-enough-length", time.Hour)

	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 10000
	}
	srv, err := NewServer(cfg, ledger, authSvc, tokens)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func register(t *testing.T, srv *Server, username string) string {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": username, "password": "secret123"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[tokenResponse](t, rr).Token
}

func TestHealthAndReady(t *testing.T) {
	var failing bool
	srv := newTestServer(t, Config{Checks: map[string]ReadinessCheck{
		"store": func(context.Context) error {
			if failing {
				return errors.New("disk gone")
			}
			return nil
		},
	}})

	rr := do(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rr)["status"])

	rr = do(t, srv, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	failing = true
	rr = do(t, srv, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "failed: disk gone", body["checks"].(map[string]any)["store"])
}

func TestMetricsAndSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Config{})
	do(t, srv, http.MethodGet, "/healthz", "", nil)

	rr := do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "# TYPE http_requests_total counter")
	assert.Contains(t, rr.Body.String(), "month_edits_total 0")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t, Config{})

	token := register(t, srv, "  Alice ")

	rr := do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/register", "", map[string]string{"username": "bob", "password": "123"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/login", "", "username=ALICE&password=secret123")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "alice", decode[tokenResponse](t, rr).Username)

	rr = do(t, srv, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	rr = do(t, srv, http.MethodGet, "/api/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", decode[map[string]any](t, rr)["username"])
}

func TestMonthLifecycle(t *testing.T) {
	srv := newTestServer(t, Config{})
	token := register(t, srv, "alice")

	rr := do(t, srv, http.MethodGet, "/api/months/2024-06", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[monthResponse](t, rr).Composite.Incomes)

	rr = do(t, srv, http.MethodPost, "/api/months/2024-06/income", token, map[string]any{"name": "Salary", "amount": "2500.50"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	added := decode[editResponse](t, rr)
	require.NotEmpty(t, added.ID)
	assert.Equal(t, []string{added.ID}, added.Changes.AddedIncomes)
	assert.Equal(t, "2500.5", added.Totals.TotalIncome.String())

	rr = do(t, srv, http.MethodGet, "/api/months/2024-07", token, nil)
	require.Len(t, decode[monthResponse](t, rr).Composite.Incomes, 1, "global income carries forward")

	rr = do(t, srv, http.MethodGet, "/api/months/2024-05", token, nil)
	assert.Empty(t, decode[monthResponse](t, rr).Composite.Incomes, "not before its start month")

	rr = do(t, srv, http.MethodPost, "/api/months/2024-06/installment", token, map[string]any{"name": "Laptop", "amount": 1200, "mode": "total", "count": 12})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "100", decode[editResponse](t, rr).Totals.Installments.String())

	// Full edit: add a period expense to the composite just shown.
	rr = do(t, srv, http.MethodGet, "/api/months/2024-06", token, nil)
	shown := decode[monthResponse](t, rr).Composite
	next := shown.Clone()
	next.PeriodExpenses = append(next.PeriodExpenses, core.MoneyItem{ID: "groceries", Name: "Groceries", Amount: decimal.RequireFromString("80")})

	rr = do(t, srv, http.MethodPut, "/api/months/2024-06", token, EditRequest{Previous: shown, Next: next})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edited := decode[editResponse](t, rr)
	require.Len(t, edited.Composite.PeriodExpenses, 1)
	assert.True(t, edited.Changes.Empty())

	rr = do(t, srv, http.MethodGet, "/api/months/2024-07", token, nil)
	assert.Empty(t, decode[monthResponse](t, rr).Composite.PeriodExpenses, "period expenses stay in their month")

	rr = do(t, srv, http.MethodDelete, "/api/months/2024-07/income/"+added.ID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{added.ID}, decode[editResponse](t, rr).Changes.RemovedIncomes)

	rr = do(t, srv, http.MethodGet, "/api/months/2024-08", token, nil)
	assert.Empty(t, decode[monthResponse](t, rr).Composite.Incomes)
	rr = do(t, srv, http.MethodGet, "/api/months/2024-06", token, nil)
	assert.Len(t, decode[monthResponse](t, rr).Composite.Incomes, 1, "earlier stored month keeps the income")

	rr = do(t, srv, http.MethodGet, "/api/history", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[struct {
		History []core.MonthTotals `json:"history"`
	}](t, rr).History
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i-1].MonthKey, history[i].MonthKey)
	}

	rr = do(t, srv, http.MethodGet, "/api/months?selected=2025-01", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode[map[string][]string](t, rr)["months"], "2025-01")

	rr = do(t, srv, http.MethodGet, "/api/record", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "passwordHash")
	assert.NotContains(t, rr.Body.String(), "salt")
	assert.Contains(t, rr.Body.String(), `"globalInstallments"`)
}

func TestMonthEditLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelDebug, Format: "json", Output: &buf})
	prev := slog.Default()
	log.SetDefault(logger)
	t.Cleanup(func() { slog.SetDefault(prev) })

	srv := newTestServer(t, Config{Logger: logger})
	token := register(t, srv, "alice")

	rr := do(t, srv, http.MethodPost, "/api/months/2024-06/income", token, map[string]any{"name": "Salary", "amount": "1000"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var edits []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) != nil || entry["msg"] != "Month edited" {
			continue
		}
		edits = append(edits, entry)
	}
	require.Len(t, edits, 1, buf.String())
	assert.Equal(t, "alice", edits[0][log.FieldUsername])
	assert.Equal(t, "2024-06", edits[0][log.FieldMonthKey])
	assert.EqualValues(t, 1, edits[0][log.FieldAdded])
	assert.EqualValues(t, 0, edits[0][log.FieldRemoved])
}

func TestLedgerErrors(t *testing.T) {
	srv := newTestServer(t, Config{})
	token := register(t, srv, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid month key", http.MethodGet, "/api/months/2024-13", nil, http.StatusUnprocessableEntity},
		{"unknown kind", http.MethodPost, "/api/months/2024-06/bogus", map[string]any{"name": "x", "amount": 1}, http.StatusNotFound},
		{"bad amount", http.MethodPost, "/api/months/2024-06/expense", map[string]any{"name": "x", "amount": "abc"}, http.StatusUnprocessableEntity},
		{"empty name", http.MethodPost, "/api/months/2024-06/expense", map[string]any{"name": " ", "amount": 5}, http.StatusUnprocessableEntity},
		{"installment without count", http.MethodPost, "/api/months/2024-06/installment", map[string]any{"name": "x", "amount": 5}, http.StatusUnprocessableEntity},
		{"malformed body", http.MethodPost, "/api/months/2024-06/expense", `{"name":`, http.StatusBadRequest},
		{"unknown item", http.MethodDelete, "/api/months/2024-06/expense/missing", nil, http.StatusNotFound},
		{"edit with unknown field", http.MethodPut, "/api/months/2024-06", `{"previous":{},"next":{},"extra":1}`, http.StatusBadRequest},
		{"edit month mismatch", http.MethodPut, "/api/months/2024-06", `{"previous":{"monthKey":"2024-06"},"next":{"monthKey":"2024-07"}}`, http.StatusUnprocessableEntity},
		{"edit duplicate ids", http.MethodPut, "/api/months/2024-06",
			`{"previous":{"monthKey":"2024-06"},"next":{"monthKey":"2024-06","periodExpenses":[{"id":"a","name":"x","amount":1},{"id":"a","name":"y","amount":2}]}}`,
			http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.path, token, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[ErrorBody](t, rr).Error)
		})
	}
}

func TestDeletedUserTokenIsNotFound(t *testing.T) {
	srv := newTestServer(t, Config{})
	tokens := auth.NewTokenIssuer("test-secret-with-enough-length", time.Hour)
	token, _, err := tokens.Issue("ghost")
	require.NoError(t, err)

	rr := do(t, srv, http.MethodGet, "/api/months/2024-06", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	srv := newTestServer(t, Config{RateLimitPerMinute: 1})
	creds := map[string]string{"username": "alice", "password": "secret123"}

	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/register", "", creds).Code)
	rr := do(t, srv, http.MethodPost, "/api/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "", nil).Code)
}

func TestErrorResponseMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.PreconditionError{Field: "previous.monthKey", Reason: "mismatch"}, http.StatusConflict},
		{fmt.Errorf("%w: %w", services.ErrValidation, core.ErrInvalidAmount), http.StatusUnprocessableEntity},
		{&core.ItemError{List: "incomes", ID: "a", Err: core.ErrDuplicateID}, http.StatusUnprocessableEntity},
		{services.ErrItemNotFound, http.StatusNotFound},
		{fmt.Errorf("load user: %w", storage.ErrNotFound), http.StatusNotFound},
		{services.ErrUserExists, http.StatusConflict},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("%w: expired", auth.ErrInvalidToken), http.StatusUnauthorized},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			errorResponse(tt.err).Write(rr)
			assert.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusInternalServerError {
				assert.False(t, strings.Contains(rr.Body.String(), "disk full"), "internal details are not leaked")
			}
		})
	}
}
