package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"kasa/internal/core"
)

type fakeSheets struct {
	mu       sync.Mutex
	titles   []string
	failGet  bool
	calls    []string
	added    []string
	lastBody gsheet.ValueRange
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.calls = append(f.calls, r.Method+" "+path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && path == "/v4/spreadsheets/sheet-id":
		if f.failGet {
			http.Error(w, `{"error":{"code":500,"message":"boom"}}`, http.StatusInternalServerError)
			return
		}
		ss := gsheet.Spreadsheet{}
		for _, t := range f.titles {
			ss.Sheets = append(ss.Sheets, &gsheet.Sheet{Properties: &gsheet.SheetProperties{Title: t}})
		}
		json.NewEncoder(w).Encode(ss)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.AddSheet != nil {
				f.added = append(f.added, rq.AddSheet.Properties.Title)
				f.titles = append(f.titles, rq.AddSheet.Properties.Title)
			}
		}
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.Write([]byte(`{}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewWithService(svc, "sheet-id", "")
}

func sampleTotals() []core.MonthTotals {
	return []core.MonthTotals{{
		MonthKey:       "2024-06",
		TotalIncome:    decimal.NewFromInt(1000),
		Subscriptions:  decimal.NewFromInt(20),
		PeriodExpenses: decimal.NewFromInt(300),
		Installments:   decimal.NewFromInt(100),
		TotalExpenses:  decimal.NewFromInt(420),
		Leftover:       decimal.NewFromInt(580),
	}}
}

func TestWriteSummaryCreatesSheet(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	require.NoError(t, c.WriteSummary(context.Background(), "alice", sampleTotals()))

	assert.Equal(t, []string{"kasa alice"}, fake.added)
	require.Len(t, fake.lastBody.Values, 2)
	assert.Equal(t, "Month", fake.lastBody.Values[0][0])
	assert.Equal(t, "2024-06", fake.lastBody.Values[1][0])
	assert.EqualValues(t, 580, fake.lastBody.Values[1][6])

	var cleared bool
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "POST") && strings.Contains(call, "'kasa alice'!A:G:clear") {
			cleared = true
		}
	}
	assert.True(t, cleared, "expected the tab to be cleared, calls: %v", fake.calls)
}

func TestWriteSummaryReusesSheet(t *testing.T) {
	fake := &fakeSheets{titles: []string{"kasa alice"}}
	c := newTestClient(t, fake)

	require.NoError(t, c.WriteSummary(context.Background(), "alice", sampleTotals()))
	assert.Empty(t, fake.added)
}

func TestWriteSummaryGetFails(t *testing.T) {
	fake := &fakeSheets{failGet: true}
	c := newTestClient(t, fake)

	err := c.WriteSummary(context.Background(), "alice", sampleTotals())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get spreadsheet")
}

func TestWriteSummaryUninitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	assert.Error(t, c.WriteSummary(context.Background(), "alice", nil))
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.EqualError(t, err, "missing spreadsheet ID")

	_, err = New(context.Background(), Options{SpreadsheetID: "id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")

	_, err = New(context.Background(), Options{SpreadsheetID: "id", CredentialsFile: "/does/not/exist.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read service account file")
}

func TestSheetTitle(t *testing.T) {
	c := NewWithService(nil, "id", "Budget")
	assert.Equal(t, "Budget bob", c.sheetTitle("bob"))

	long := c.sheetTitle(strings.Repeat("è", 80))
	assert.LessOrEqual(t, len(long), maxTitleLength)
	assert.True(t, strings.HasPrefix(long, "Budget "))

	assert.Equal(t, "'bob''s'", quoteTitle("bob's"))
}
