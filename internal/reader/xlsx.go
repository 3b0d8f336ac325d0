package reader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"
	"github.com/zulandar/datayard/internal/coerce"
)

// XLSXReader reads the first sheet of an Office Open XML workbook.
type XLSXReader struct {
	fs afero.Fs
}

func (r *XLSXReader) Format() Format { return FormatXLSX }

// SniffDialect always succeeds; spreadsheets carry their own structure.
func (r *XLSXReader) SniffDialect(path, encoding string) (Dialect, error) {
	rows, err := r.open(path)
	if err != nil {
		return Dialect{}, err
	}
	return Dialect{}, rows.Close()
}

func (r *XLSXReader) ExtractColumnNames(path string, d Dialect, encoding string) ([]string, error) {
	rows, err := r.open(path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.nextCells() {
		if rows.err != nil {
			return nil, rows.err
		}
		return nil, &NotSniffableError{Path: path, Reason: "sheet is empty"}
	}
	return cellTexts(rows.cells), nil
}

func (r *XLSXReader) SampleRows(path string, d Dialect, n int, encoding string) ([][]string, error) {
	rows, err := r.Rows(path, d, encoding)
	if err != nil {
		return nil, err
	}
	return collect(rows, n)
}

// GuessColumnTypes guesses from the physical cell types of up to
// sampleSize data rows.
func (r *XLSXReader) GuessColumnTypes(path string, d Dialect, sampleSize int, encoding string) ([]coerce.Type, error) {
	rows, err := r.open(path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.nextCells() {
		if rows.err != nil {
			return nil, rows.err
		}
		return nil, &NotSniffableError{Path: path, Reason: "sheet is empty"}
	}
	width := len(rows.cells)
	var sample [][]cell
	for len(sample) < sampleSize && rows.nextCells() {
		sample = append(sample, rows.cells)
	}
	if rows.err != nil {
		return nil, rows.err
	}
	return guessFromCells(width, sample), nil
}

func (r *XLSXReader) Rows(path string, d Dialect, encoding string) (Rows, error) {
	rows, err := r.open(path)
	if err != nil {
		return nil, err
	}
	if !rows.nextCells() && rows.err != nil {
		rows.Close()
		return nil, rows.err
	}
	return rows, nil
}

func (r *XLSXReader) CountRows(path string, d Dialect, encoding string) (int, error) {
	rows, err := r.Rows(path, d, encoding)
	if err != nil {
		return 0, err
	}
	return count(rows)
}

func (r *XLSXReader) open(path string) (*xlsxRows, error) {
	fh, err := r.fs.Open(path)
	if err != nil {
		return nil, err
	}
	wb, err := excelize.OpenReader(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("reader: open workbook %s: %w", path, err)
	}
	x := &xlsxRows{wb: wb, fh: fh, dateStyles: make(map[int]bool)}
	fail := func(err error) (*xlsxRows, error) {
		x.Close()
		return nil, err
	}

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return fail(&NotSniffableError{Path: path, Reason: "workbook has no sheets"})
	}
	props, err := wb.GetWorkbookProps()
	if err != nil {
		return fail(fmt.Errorf("reader: workbook properties %s: %w", path, err))
	}
	x.date1904 = props.Date1904 != nil && *props.Date1904
	if x.it, err = wb.Rows(sheets[0]); err != nil {
		return fail(fmt.Errorf("reader: rows of %s: %w", sheets[0], err))
	}
	if x.meta, err = openSheetMeta(fh); err != nil {
		return fail(fmt.Errorf("reader: cell attributes of %s: %w", path, err))
	}
	return x, nil
}

// xlsxRows pairs excelize's streaming values with the cell attributes read
// by sheetMeta, so no call decodes the whole worksheet.
type xlsxRows struct {
	wb         *excelize.File
	fh         afero.File
	it         *excelize.Rows
	meta       *sheetMeta
	date1904   bool
	dateStyles map[int]bool
	rowNum     int
	cells      []cell
	err        error
}

func (x *xlsxRows) nextCells() bool {
	if x.err != nil || !x.it.Next() {
		if x.err == nil {
			x.err = x.it.Error()
		}
		return false
	}
	x.rowNum++
	raw, err := x.it.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		x.err = err
		return false
	}
	attrs, err := x.meta.attrs(x.rowNum)
	if err != nil {
		x.err = fmt.Errorf("reader: row %d attributes: %w", x.rowNum, err)
		return false
	}
	cells := make([]cell, len(raw))
	for i, v := range raw {
		if cells[i], err = x.cell(attrs[i+1], v); err != nil {
			x.err = err
			return false
		}
	}
	x.cells = cells
	return true
}

func (x *xlsxRows) cell(a cellAttrs, raw string) (cell, error) {
	if strings.TrimSpace(raw) == "" {
		return cell{kind: cellBlank}, nil
	}
	switch a.typ {
	case "b":
		switch strings.ToUpper(raw) {
		case "1", "TRUE":
			return cell{kind: cellBool, text: "true"}, nil
		case "0", "FALSE":
			return cell{kind: cellBool, text: "false"}, nil
		}
		return cell{kind: cellText, text: raw}, nil
	case "d":
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05", raw)
		}
		if err != nil {
			return cell{kind: cellText, text: raw}, nil
		}
		return renderTemporal(t.UTC(), 1), nil
	case "", "n":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return cell{kind: cellText, text: raw}, nil
		}
		isDate, err := x.isDateStyle(a.style)
		if err != nil {
			return cell{}, err
		}
		if isDate {
			t, err := excelize.ExcelDateToTime(f, x.date1904)
			if err == nil {
				return renderTemporal(t, f), nil
			}
		}
		return renderNumber(f), nil
	}
	return cell{kind: cellText, text: raw}, nil
}

// isDateStyle reports whether style id displays a date, reading the
// workbook's style table once per id.
func (x *xlsxRows) isDateStyle(id int) (bool, error) {
	if isDate, ok := x.dateStyles[id]; ok {
		return isDate, nil
	}
	style, err := x.wb.GetStyle(id)
	if err != nil {
		return false, err
	}
	custom := ""
	if style.CustomNumFmt != nil {
		custom = *style.CustomNumFmt
	}
	isDate := isDateFormat(style.NumFmt, custom)
	x.dateStyles[id] = isDate
	return isDate, nil
}

func (x *xlsxRows) Next() bool    { return x.nextCells() }
func (x *xlsxRows) Row() []string { return cellTexts(x.cells) }
func (x *xlsxRows) Err() error    { return x.err }

func (x *xlsxRows) Close() error {
	if x.meta != nil {
		x.meta.Close()
	}
	if x.it != nil {
		x.it.Close()
	}
	err := x.wb.Close()
	if cerr := x.fh.Close(); err == nil {
		err = cerr
	}
	return err
}
