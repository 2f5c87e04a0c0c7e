// Package sheets appends exported ledger rows to a Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Header is the first row written to an empty sheet.
var Header = []any{"Date", "Category", "Type", "Amount", "Note"}

type Writer struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
}

// New creates a writer for spreadsheetID/sheet. opts usually come from
// googleapi.Credentials.ClientOptions with gsheet.SpreadsheetsScope.
func New(ctx context.Context, spreadsheetID, sheet string, opts ...option.ClientOption) (*Writer, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if sheet = strings.TrimSpace(sheet); sheet == "" {
		sheet = "Ledger"
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Writer{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}, nil
}

// AppendRows appends rows after the last filled row and returns the updated
// range.
func (w *Writer) AppendRows(ctx context.Context, rows [][]any) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	rng := fmt.Sprintf("%s!A:E", w.sheet)
	resp, err := w.svc.Spreadsheets.Values.Append(w.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", w.sheet, err)
	}
	if resp.Updates == nil {
		return rng, nil
	}
	return resp.Updates.UpdatedRange, nil
}

// EnsureHeader writes Header when the first row of the sheet is empty.
func (w *Writer) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:E1", w.sheet)
	resp, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", w.sheet, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	_, err = w.svc.Spreadsheets.Values.Update(w.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{Header}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write header of %s: %w", w.sheet, err)
	}
	return nil
}
