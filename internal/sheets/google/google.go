package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"kasa/internal/core"
	ports "kasa/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Sheet titles are limited to 100 characters.
const maxTitleLength = 100

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Each user gets a tab named "<prefix> <username>".
	sheetPrefix string
}

var _ ports.SummaryWriter = (*Client)(nil)

// Options configures New. Exactly one of CredentialsJSON and
// CredentialsFile is required.
type Options struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	SheetPrefix     string
}

// New creates a Sheets client authenticated as a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts.SpreadsheetID, opts.SheetPrefix), nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetPrefix string) *Client {
	if sheetPrefix == "" {
		sheetPrefix = "kasa"
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetPrefix: sheetPrefix}
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	var credentialsJSON []byte

	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline JSON credentials", "component", "sheets")
		credentialsJSON = []byte(opts.CredentialsJSON)
	case strings.TrimSpace(opts.CredentialsFile) != "":
		slog.InfoContext(ctx, "Reading credentials from file", "component", "sheets", "path", opts.CredentialsFile)
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WriteSummary replaces the user's tab with a header row and one row per
// month. The tab is created on first use.
func (c *Client) WriteSummary(ctx context.Context, username string, totals []core.MonthTotals) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	title := c.sheetTitle(username)
	if err := c.ensureSheet(ctx, title); err != nil {
		return err
	}

	quoted := quoteTitle(title)
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quoted+"!A:G", &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet %q: %w", title, err)
	}

	vr := &gsheet.ValueRange{Values: summaryRows(totals)}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, quoted+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write sheet %q: %w", title, err)
	}

	slog.InfoContext(ctx, "Exported summary to Google Sheets",
		"component", "sheets",
		"username", username,
		"sheet", title,
		"months", len(totals))
	return nil
}

func (c *Client) ensureSheet(ctx context.Context, title string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", title, err)
	}
	slog.InfoContext(ctx, "Created summary sheet", "component", "sheets", "sheet", title)
	return nil
}

func (c *Client) sheetTitle(username string) string {
	title := c.sheetPrefix + " " + username
	if len(title) <= maxTitleLength {
		return title
	}
	title = title[:maxTitleLength]
	for !utf8.ValidString(title) {
		title = title[:len(title)-1]
	}
	return title
}

// quoteTitle quotes a sheet title for A1 notation.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func summaryRows(totals []core.MonthTotals) [][]interface{} {
	rows := make([][]interface{}, 0, len(totals)+1)
	header := make([]interface{}, len(ports.Header))
	for i, h := range ports.Header {
		header[i] = h
	}
	rows = append(rows, header)
	for _, t := range totals {
		rows = append(rows, []interface{}{
			t.MonthKey,
			t.TotalIncome.InexactFloat64(),
			t.Subscriptions.InexactFloat64(),
			t.PeriodExpenses.InexactFloat64(),
			t.Installments.InexactFloat64(),
			t.TotalExpenses.InexactFloat64(),
			t.Leftover.InexactFloat64(),
		})
	}
	return rows
}
