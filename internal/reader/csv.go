package reader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/coerce"
)

// candidateDelimiters are tried in order of preference when sniffing.
var candidateDelimiters = []string{",", "\t", ";", "|"}

// minConsistency is the share of sampled records that must agree on the
// field count for a delimiter to be accepted.
const minConsistency = 0.9

// CSVReader reads delimited text files.
type CSVReader struct {
	fs        afero.Fs
	maxSample int
}

func (r *CSVReader) Format() Format { return FormatCSV }

// SniffDialect infers the delimiter and quoting from the first maxSample
// bytes of the file.
func (r *CSVReader) SniffDialect(path, encoding string) (Dialect, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return Dialect{}, err
	}
	defer f.Close()

	dec, err := decode(f, encoding)
	if err != nil {
		return Dialect{}, err
	}
	sample, err := io.ReadAll(io.LimitReader(dec, int64(r.maxSample)))
	if err != nil {
		return Dialect{}, err
	}
	truncated := len(sample) >= r.maxSample
	if truncated {
		// Drop the partial trailing line.
		if i := bytes.LastIndexByte(sample, '\n'); i > 0 {
			sample = sample[:i+1]
		}
	}
	if len(bytes.TrimSpace(sample)) == 0 {
		return Dialect{}, &NotSniffableError{Path: path, Reason: "file is empty"}
	}

	best, bestScore := "", 0.0
	for _, delim := range candidateDelimiters {
		score := delimiterScore(sample, delim)
		if score > bestScore {
			best, bestScore = delim, score
		}
	}
	if best == "" {
		return Dialect{}, &NotSniffableError{Path: path, Reason: "no delimiter splits rows consistently"}
	}

	d := Dialect{
		Delimiter:      best,
		QuoteChar:      `"`,
		LineTerminator: "\n",
		DoubleQuote:    true,
	}
	if bytes.Contains(sample, []byte("\r\n")) {
		d.LineTerminator = "\r\n"
	}
	plain := bytes.Count(sample, []byte(best))
	spaced := bytes.Count(sample, []byte(best+" "))
	d.SkipInitialSpace = plain > 0 && spaced == plain
	return d, nil
}

// delimiterScore returns how consistently delim splits sample into the same
// number of fields, weighted by that number. Zero means unusable.
func delimiterScore(sample []byte, delim string) float64 {
	cr := csv.NewReader(bytes.NewReader(sample))
	cr.Comma = []rune(delim)[0]
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	counts := make(map[int]int)
	total := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		counts[len(rec)]++
		total++
	}
	mode, modeCount := 0, 0
	for fields, c := range counts {
		if c > modeCount || (c == modeCount && fields > mode) {
			mode, modeCount = fields, c
		}
	}
	if total == 0 || mode < 2 {
		return 0
	}
	consistency := float64(modeCount) / float64(total)
	if consistency < minConsistency {
		return 0
	}
	return consistency * float64(mode)
}

func (r *CSVReader) open(path string, d Dialect, encoding string) (*csvRows, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := decode(f, encoding)
	if err != nil {
		f.Close()
		return nil, err
	}
	cr := csv.NewReader(dec)
	cr.Comma = d.Comma()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = d.SkipInitialSpace
	return &csvRows{f: f, cr: cr}, nil
}

// ExtractColumnNames returns the header row.
func (r *CSVReader) ExtractColumnNames(path string, d Dialect, encoding string) ([]string, error) {
	rows, err := r.open(path, d, encoding)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	header, err := rows.cr.Read()
	if err == io.EOF {
		return nil, &NotSniffableError{Path: path, Reason: "file has no header row"}
	}
	if err != nil {
		return nil, wrapReadErr(err)
	}
	return header, nil
}

// SampleRows returns up to n data rows.
func (r *CSVReader) SampleRows(path string, d Dialect, n int, encoding string) ([][]string, error) {
	rows, err := r.Rows(path, d, encoding)
	if err != nil {
		return nil, err
	}
	return collect(rows, n)
}

// GuessColumnTypes infers a type per column from up to sampleSize rows.
func (r *CSVReader) GuessColumnTypes(path string, d Dialect, sampleSize int, encoding string) ([]coerce.Type, error) {
	header, err := r.ExtractColumnNames(path, d, encoding)
	if err != nil {
		return nil, err
	}
	sample, err := r.SampleRows(path, d, sampleSize, encoding)
	if err != nil {
		return nil, err
	}
	return GuessTypes(len(header), sample), nil
}

// Rows streams the data rows following the header.
func (r *CSVReader) Rows(path string, d Dialect, encoding string) (Rows, error) {
	rows, err := r.open(path, d, encoding)
	if err != nil {
		return nil, err
	}
	if _, err := rows.cr.Read(); err != nil && err != io.EOF {
		rows.Close()
		return nil, wrapReadErr(err)
	}
	return rows, nil
}

// CountRows counts data rows.
func (r *CSVReader) CountRows(path string, d Dialect, encoding string) (int, error) {
	rows, err := r.Rows(path, d, encoding)
	if err != nil {
		return 0, err
	}
	return count(rows)
}

type csvRows struct {
	f   afero.File
	cr  *csv.Reader
	row []string
	err error
}

func (c *csvRows) Next() bool {
	if c.err != nil {
		return false
	}
	rec, err := c.cr.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		c.err = wrapReadErr(err)
		return false
	}
	c.row = rec
	return true
}

func (c *csvRows) Row() []string { return c.row }
func (c *csvRows) Err() error    { return c.err }
func (c *csvRows) Close() error  { return c.f.Close() }

// wrapReadErr digs an EncodingError out of a csv parse error.
func wrapReadErr(err error) error {
	var ee *EncodingError
	if errors.As(err, &ee) {
		return ee
	}
	return err
}
