// Package reader extracts column names, samples, type guesses and row
// streams from uploaded delimited-text and spreadsheet files.
package reader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/coerce"
)

// DefaultSnifferMaxSample caps how much of a delimited file is read to infer
// its dialect.
const DefaultSnifferMaxSample = 100 * 1024

// Format names a supported upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLS  Format = "xls"
	FormatXLSX Format = "xlsx"
)

// Dialect holds the syntax needed to parse a delimited file. Spreadsheet
// readers use the zero Dialect.
type Dialect struct {
	Delimiter        string `json:"delimiter,omitempty"`
	QuoteChar        string `json:"quotechar,omitempty"`
	LineTerminator   string `json:"lineterminator,omitempty"`
	DoubleQuote      bool   `json:"doublequote,omitempty"`
	SkipInitialSpace bool   `json:"skipinitialspace,omitempty"`
}

// Comma returns the delimiter as a rune, defaulting to ','.
func (d Dialect) Comma() rune {
	if d.Delimiter == "" {
		return ','
	}
	return []rune(d.Delimiter)[0]
}

// Rows iterates over the data rows of a file, header excluded.
type Rows interface {
	Next() bool
	Row() []string
	Err() error
	Close() error
}

// Reader is implemented by each supported format.
type Reader interface {
	Format() Format
	SniffDialect(path, encoding string) (Dialect, error)
	ExtractColumnNames(path string, d Dialect, encoding string) ([]string, error)
	SampleRows(path string, d Dialect, n int, encoding string) ([][]string, error)
	GuessColumnTypes(path string, d Dialect, sampleSize int, encoding string) ([]coerce.Type, error)
	Rows(path string, d Dialect, encoding string) (Rows, error)
	// CountRows returns the number of data rows, used as a progress estimate.
	CountRows(path string, d Dialect, encoding string) (int, error)
}

// Options tune reader behaviour.
type Options struct {
	SnifferMaxSample int
}

// New returns the reader for format, reading files from fs.
func New(format Format, fs afero.Fs, opts Options) (Reader, error) {
	if opts.SnifferMaxSample <= 0 {
		opts.SnifferMaxSample = DefaultSnifferMaxSample
	}
	switch format {
	case FormatCSV:
		return &CSVReader{fs: fs, maxSample: opts.SnifferMaxSample}, nil
	case FormatXLSX:
		return &XLSXReader{fs: fs}, nil
	case FormatXLS:
		return &XLSReader{fs: fs}, nil
	}
	return nil, fmt.Errorf("reader: unsupported format %q", format)
}

// FormatForFilename picks a format from the file extension.
func FormatForFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	}
	return "", fmt.Errorf("reader: unsupported file type %q", filepath.Ext(name))
}

// EncodingError means the file does not decode under the declared encoding.
// The fix is to declare a different encoding, not to repair the file.
type EncodingError struct {
	Encoding string
	Offset   int64
	Err      error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reader: file is not valid %s near byte %d: %v", e.Encoding, e.Offset, e.Err)
	}
	return fmt.Sprintf("reader: file is not valid %s near byte %d", e.Encoding, e.Offset)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// NotSniffableError means no consistent dialect could be inferred.
type NotSniffableError struct {
	Path   string
	Reason string
}

func (e *NotSniffableError) Error() string {
	return fmt.Sprintf("reader: cannot determine dialect of %s: %s", e.Path, e.Reason)
}

// collect reads up to n rows (all rows when n < 0) and closes rows.
func collect(rows Rows, n int) ([][]string, error) {
	defer rows.Close()
	var out [][]string
	for (n < 0 || len(out) < n) && rows.Next() {
		out = append(out, rows.Row())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// count drains rows.
func count(rows Rows) (int, error) {
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}
