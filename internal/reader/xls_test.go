package reader

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/coerce"
)

func newXLSReader(t *testing.T) Reader {
	t.Helper()
	r, err := New(FormatXLS, afero.NewReadOnlyFs(afero.NewOsFs()), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestXLS_ExtractColumnNames(t *testing.T) {
	r := newXLSReader(t)
	names, err := r.ExtractColumnNames("testdata/contributors.xls", Dialect{}, "")
	if err != nil {
		t.Fatalf("ExtractColumnNames: %v", err)
	}
	if want := []string{"id", "name", "amount", "joined"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %q, want %q", names, want)
	}
}

func TestXLS_RowsSkipHeader(t *testing.T) {
	r := newXLSReader(t)
	rows, err := r.Rows("testdata/contributors.xls", Dialect{}, "")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer rows.Close()

	var got [][]string
	for rows.Next() {
		got = append(got, rows.Row())
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	want := [][]string{
		{"1", "Ann Diaz", "1250.5", "2020-01-15"},
		{"2", "Bo Chen", "10", "2021-06-01"},
		{"3", "Cy", "", "2019-12-31"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %q, want %q", got, want)
	}
}

func TestXLS_CountRows(t *testing.T) {
	r := newXLSReader(t)
	tests := []struct {
		path string
		want int
	}{
		{"testdata/contributors.xls", 3},
		{"testdata/gaps.xls", 2},
	}
	for _, tt := range tests {
		n, err := r.CountRows(tt.path, Dialect{}, "")
		if err != nil {
			t.Fatalf("CountRows(%s): %v", tt.path, err)
		}
		if n != tt.want {
			t.Errorf("CountRows(%s) = %d, want %d", tt.path, n, tt.want)
		}
	}
}

func TestXLS_MissingRowsSkipped(t *testing.T) {
	r := newXLSReader(t)
	sample, err := r.SampleRows("testdata/gaps.xls", Dialect{}, 10, "")
	if err != nil {
		t.Fatalf("SampleRows: %v", err)
	}
	if want := [][]string{{"1", "Ann"}, {"2", "Bo"}}; !reflect.DeepEqual(sample, want) {
		t.Errorf("sample = %q, want %q", sample, want)
	}
}

func TestXLS_GuessColumnTypes(t *testing.T) {
	r := newXLSReader(t)
	types, err := r.GuessColumnTypes("testdata/contributors.xls", Dialect{}, 10, "")
	if err != nil {
		t.Fatalf("GuessColumnTypes: %v", err)
	}
	want := []coerce.Type{coerce.Int, coerce.Text, coerce.Float, coerce.Date}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
}

func TestXLS_NotAWorkbook(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "fake.xls", []byte("id,name\n1,Ann\n"), 0644)
	r, _ := New(FormatXLS, fs, Options{})
	if _, err := r.ExtractColumnNames("fake.xls", Dialect{}, ""); err == nil {
		t.Error("expected error for a file that is not a workbook")
	}
}
