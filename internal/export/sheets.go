package export

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

const (
	walletSheet  = "WALLET"
	historySheet = "HISTORY"
)

// SheetsWriter implements SheetWriter using the Google Sheets API.
type SheetsWriter struct {
	spreadsheetID string
	svc           *sheets.Service
}

// NewSheetsWriter creates a SheetsWriter authenticated with a service account JSON.
func NewSheetsWriter(ctx context.Context, spreadsheetID, credentialsJSON string) (*SheetsWriter, error) {
	creds, err := google.CredentialsFromJSON(
		ctx,
		[]byte(credentialsJSON),
		sheets.SpreadsheetsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parsing google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &SheetsWriter{spreadsheetID: spreadsheetID, svc: svc}, nil
}

// Write rewrites the WALLET sheet and appends one line to HISTORY.
func (w *SheetsWriter) Write(ctx context.Context, report Report) error {
	meta, err := w.ensureSheets(ctx, walletSheet, historySheet)
	if err != nil {
		return err
	}

	_, err = w.svc.Spreadsheets.Values.Clear(
		w.spreadsheetID,
		walletSheet+"!A:G",
		&sheets.ClearValuesRequest{},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clearing %s: %w", walletSheet, err)
	}

	_, err = w.svc.Spreadsheets.Values.Update(
		w.spreadsheetID,
		walletSheet+"!A1",
		&sheets.ValueRange{Values: walletTable(report)},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing %s: %w", walletSheet, err)
	}

	if err := w.appendHistory(ctx, report); err != nil {
		return err
	}

	if err := w.applyFormatting(ctx, meta); err != nil {
		return fmt.Errorf("formatting sheets: %w", err)
	}
	return nil
}

// appendHistory writes the header if HISTORY is empty, then appends the current line.
func (w *SheetsWriter) appendHistory(ctx context.Context, report Report) error {
	existing, err := w.svc.Spreadsheets.Values.Get(
		w.spreadsheetID, historySheet+"!A1",
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading %s header: %w", historySheet, err)
	}

	if len(existing.Values) == 0 {
		_, err = w.svc.Spreadsheets.Values.Update(
			w.spreadsheetID,
			historySheet+"!A1",
			&sheets.ValueRange{Values: [][]any{historyHeader}},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("writing %s header: %w", historySheet, err)
		}
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		historySheet+"!A:D",
		&sheets.ValueRange{Values: [][]any{historyRow(report)}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending %s row: %w", historySheet, err)
	}
	return nil
}

// sheetMeta is the part of a sheet's properties needed for formatting requests.
type sheetMeta struct {
	id int64
}

// ensureSheets creates any of the named sheets that do not already exist and
// returns the ids of all of them.
func (w *SheetsWriter) ensureSheets(ctx context.Context, names ...string) (map[string]sheetMeta, error) {
	spreadsheet, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting spreadsheet metadata: %w", err)
	}

	meta := make(map[string]sheetMeta, len(names))
	for _, s := range spreadsheet.Sheets {
		meta[s.Properties.Title] = sheetMeta{id: s.Properties.SheetId}
	}

	var requests []*sheets.Request
	for _, name := range names {
		if _, ok := meta[name]; !ok {
			requests = append(requests, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: name},
				},
			})
		}
	}

	if len(requests) == 0 {
		return meta, nil
	}

	resp, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: requests},
	).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("creating sheets: %w", err)
	}
	for _, r := range resp.Replies {
		if r.AddSheet != nil && r.AddSheet.Properties != nil {
			meta[r.AddSheet.Properties.Title] = sheetMeta{id: r.AddSheet.Properties.SheetId}
		}
	}

	return meta, nil
}

// applyFormatting gives both sheets a bold light-green header row frozen in place,
// and currency formats on the value columns.
func (w *SheetsWriter) applyFormatting(ctx context.Context, meta map[string]sheetMeta) error {
	// #D9EAD3
	lightGreen := &sheets.Color{Red: 0.851, Green: 0.918, Blue: 0.827}
	header := &sheets.CellFormat{
		BackgroundColor:     lightGreen,
		TextFormat:          &sheets.TextFormat{Bold: true},
		HorizontalAlignment: "CENTER",
	}
	usd := &sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "CURRENCY", Pattern: "$#,##0.00"}}
	percent := &sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "PERCENT", Pattern: "0.00%"}}

	wallet := meta[walletSheet].id
	history := meta[historySheet].id

	reqs := []*sheets.Request{
		cellFormatReq(wallet, 0, 1, 0, 7, header, "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)"),
		cellFormatReq(history, 0, 1, 0, 4, header, "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)"),
		cellFormatReq(wallet, 1, 10000, 3, 5, usd, "userEnteredFormat.numberFormat"),
		cellFormatReq(wallet, 1, 10000, 5, 6, percent, "userEnteredFormat.numberFormat"),
		cellFormatReq(history, 1, 100000, 1, 2, usd, "userEnteredFormat.numberFormat"),
		freezeHeaderReq(wallet),
		freezeHeaderReq(history),
	}

	_, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: reqs},
	).Context(ctx).Do()
	return err
}

func cellFormatReq(sheetID, startRow, endRow, startCol, endCol int64, format *sheets.CellFormat, fields string) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    startRow,
				EndRowIndex:      endRow,
				StartColumnIndex: startCol,
				EndColumnIndex:   endCol,
			},
			Cell:   &sheets.CellData{UserEnteredFormat: format},
			Fields: fields,
		},
	}
}

func freezeHeaderReq(sheetID int64) *sheets.Request {
	return &sheets.Request{
		UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId:        sheetID,
				GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
			},
			Fields: "gridProperties.frozenRowCount",
		},
	}
}
