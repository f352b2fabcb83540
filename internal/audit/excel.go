package audit

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// workbook appends rows sheet by sheet.
type workbook struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
	bold         int
}

func newWorkbook() *workbook {
	return &workbook{file: excelize.NewFile()}
}

func (w *workbook) AddSheet(name string) error {
	// Excel limit.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes a bold column row.
func (w *workbook) WriteHeader(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("sheet %s: empty header", w.currentSheet)
	}
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.WriteRow(row); err != nil {
		return err
	}

	if w.bold == 0 {
		style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return fmt.Errorf("header style: %w", err)
		}
		w.bold = style
	}
	first, err := excelize.CoordinatesToCellName(1, w.currentRow-1)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(w.currentSheet, first, last, w.bold); err != nil {
		return fmt.Errorf("sheet %s: style header: %w", w.currentSheet, err)
	}
	return nil
}

func (w *workbook) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

func (w *workbook) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *workbook) Close() error {
	return w.file.Close()
}
