package reader

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/coerce"
)

// XLSReader reads the first sheet of a legacy BIFF workbook. The library
// renders date cells through the workbook's own date mode, so the physical
// kind of a cell is recovered from its rendered text.
type XLSReader struct {
	fs afero.Fs
}

func (r *XLSReader) Format() Format { return FormatXLS }

func (r *XLSReader) SniffDialect(path, encoding string) (Dialect, error) {
	if _, err := r.open(path, encoding); err != nil {
		return Dialect{}, err
	}
	return Dialect{}, nil
}

func (r *XLSReader) ExtractColumnNames(path string, d Dialect, encoding string) ([]string, error) {
	rows, err := r.open(path, encoding)
	if err != nil {
		return nil, err
	}
	if !rows.nextCells() {
		return nil, &NotSniffableError{Path: path, Reason: "sheet is empty"}
	}
	return cellTexts(rows.cells), nil
}

func (r *XLSReader) SampleRows(path string, d Dialect, n int, encoding string) ([][]string, error) {
	rows, err := r.Rows(path, d, encoding)
	if err != nil {
		return nil, err
	}
	return collect(rows, n)
}

func (r *XLSReader) GuessColumnTypes(path string, d Dialect, sampleSize int, encoding string) ([]coerce.Type, error) {
	rows, err := r.open(path, encoding)
	if err != nil {
		return nil, err
	}
	if !rows.nextCells() {
		return nil, &NotSniffableError{Path: path, Reason: "sheet is empty"}
	}
	width := len(rows.cells)
	var sample [][]cell
	for len(sample) < sampleSize && rows.nextCells() {
		sample = append(sample, rows.cells)
	}
	return guessFromCells(width, sample), nil
}

func (r *XLSReader) Rows(path string, d Dialect, encoding string) (Rows, error) {
	rows, err := r.open(path, encoding)
	if err != nil {
		return nil, err
	}
	rows.nextCells()
	return rows, nil
}

func (r *XLSReader) CountRows(path string, d Dialect, encoding string) (int, error) {
	rows, err := r.open(path, encoding)
	if err != nil {
		return 0, err
	}
	// Counted the way Rows reads them: present rows less the header.
	n := 0
	for rows.nextCells() {
		n++
	}
	if n > 0 {
		n--
	}
	return n, nil
}

func (r *XLSReader) open(path, encoding string) (*xlsRows, error) {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(encoding) == "" {
		encoding = DefaultEncoding
	}
	wb, err := xls.OpenReader(bytes.NewReader(data), encoding)
	if err != nil {
		return nil, fmt.Errorf("reader: open workbook %s: %w", path, err)
	}
	if wb.NumSheets() == 0 {
		return nil, &NotSniffableError{Path: path, Reason: "workbook has no sheets"}
	}
	return &xlsRows{sheet: wb.GetSheet(0)}, nil
}

type xlsRows struct {
	sheet *xls.WorkSheet
	next  int
	cells []cell
}

// nextCells moves to the next row present in the sheet. Rows with no
// record at all are skipped, as blank lines are in CSV.
func (x *xlsRows) nextCells() bool {
	if x.sheet == nil {
		return false
	}
	for x.next <= int(x.sheet.MaxRow) {
		row := sheetRow(x.sheet, x.next)
		x.next++
		if row == nil {
			continue
		}
		last := row.LastCol()
		cells := make([]cell, 0, last)
		for i := 0; i < last; i++ {
			cells = append(cells, inferCell(row.Col(i)))
		}
		x.cells = cells
		return true
	}
	x.cells = nil
	return false
}

// sheetRow returns row i, or nil when the sheet has no such row.
// WorkSheet.Row dereferences the missing row.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

// inferCell recovers a cell's physical kind from its rendered text.
func inferCell(s string) cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return cell{kind: cellBlank}
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return cell{kind: cellBool, text: "true"}
	case "FALSE":
		return cell{kind: cellBool, text: "false"}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "nN") {
		return renderNumber(f)
	}
	if t, err := coerce.ParseTemporal(s); err == nil {
		switch coerce.TemporalType(t) {
		case coerce.Time:
			return cell{kind: cellTime, text: t.Format("15:04:05")}
		case coerce.Date:
			return cell{kind: cellDate, text: t.Format("2006-01-02")}
		}
		return cell{kind: cellDateTime, text: t.Format("2006-01-02T15:04:05")}
	}
	return cell{kind: cellText, text: s}
}

func (x *xlsRows) Next() bool    { return x.nextCells() }
func (x *xlsRows) Row() []string { return cellTexts(x.cells) }
func (x *xlsRows) Err() error    { return nil }
func (x *xlsRows) Close() error  { return nil }
