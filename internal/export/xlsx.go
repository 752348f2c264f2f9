package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxWalletSheet  = "Wallet"
	xlsxHistorySheet = "History"
)

// XLSXWriter implements SheetWriter by saving a local workbook. The Wallet sheet is
// rewritten on every export; History keeps one line per export.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates a writer for the workbook at path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

// Write saves the report into the workbook, creating the file if needed.
func (w *XLSXWriter) Write(_ context.Context, report Report) error {
	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	historyRows, err := w.ensureHistory(f)
	if err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(1, historyRows+1)
	if err != nil {
		return err
	}
	line := historyRow(report)
	if err := f.SetSheetRow(xlsxHistorySheet, cell, &line); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}

	if err := w.writeWallet(f, report); err != nil {
		return err
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving %s: %w", w.path, err)
	}
	return nil
}

func (w *XLSXWriter) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("opening %s: %w", w.path, err)
	}
	return excelize.NewFile(), nil
}

// ensureHistory creates the History sheet with its header when missing and returns
// the number of rows it holds.
func (w *XLSXWriter) ensureHistory(f *excelize.File) (int, error) {
	idx, err := f.GetSheetIndex(xlsxHistorySheet)
	if err != nil {
		return 0, err
	}
	if idx == -1 {
		if _, err := f.NewSheet(xlsxHistorySheet); err != nil {
			return 0, fmt.Errorf("creating history sheet: %w", err)
		}
		header := historyHeader
		if err := f.SetSheetRow(xlsxHistorySheet, "A1", &header); err != nil {
			return 0, err
		}
		if err := w.styleHeader(f, xlsxHistorySheet); err != nil {
			return 0, err
		}
		return 1, nil
	}

	rows, err := f.GetRows(xlsxHistorySheet)
	if err != nil {
		return 0, fmt.Errorf("reading history: %w", err)
	}
	return max(len(rows), 1), nil
}

// writeWallet replaces the Wallet sheet with the current table.
func (w *XLSXWriter) writeWallet(f *excelize.File, report Report) error {
	idx, err := f.GetSheetIndex(xlsxWalletSheet)
	if err != nil {
		return err
	}
	if idx != -1 {
		if err := f.DeleteSheet(xlsxWalletSheet); err != nil {
			return fmt.Errorf("clearing wallet sheet: %w", err)
		}
	}
	idx, err = f.NewSheet(xlsxWalletSheet)
	if err != nil {
		return fmt.Errorf("creating wallet sheet: %w", err)
	}

	for i, row := range walletTable(report) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(xlsxWalletSheet, cell, &row); err != nil {
			return fmt.Errorf("writing wallet row %d: %w", i+1, err)
		}
	}
	if err := w.styleHeader(f, xlsxWalletSheet); err != nil {
		return err
	}

	// New workbooks start with a default sheet.
	if i, _ := f.GetSheetIndex("Sheet1"); i != -1 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
		idx, _ = f.GetSheetIndex(xlsxWalletSheet)
	}
	f.SetActiveSheet(idx)
	return nil
}

func (w *XLSXWriter) styleHeader(f *excelize.File, sheet string) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D9EAD3"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
