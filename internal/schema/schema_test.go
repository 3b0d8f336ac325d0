package schema

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/zulandar/datayard/internal/coerce"
)

func indexedNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if c.IndexedName != nil {
			out[i] = *c.IndexedName
		}
	}
	return out
}

func TestBuildSchema_Untyped(t *testing.T) {
	cols := BuildSchema([]string{"id", "first_name", "last_name", "employer"}, nil, nil)
	if len(cols) != 4 {
		t.Fatalf("len = %d, want 4", len(cols))
	}
	for _, c := range cols {
		if c.Type != coerce.Unset {
			t.Errorf("%s.Type = %s, want unset", c.Name, c.Type)
		}
		if c.Indexed || c.IndexedName != nil {
			t.Errorf("%s is indexed, want unindexed", c.Name)
		}
	}
	if got := Names(cols); !reflect.DeepEqual(got, []string{"id", "first_name", "last_name", "employer"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestBuildSchema_IndexedNames(t *testing.T) {
	cols := BuildSchema(
		[]string{"ID", "Amount ($)", "Notes", "Café Name"},
		[]bool{true, true, false, true},
		[]coerce.Type{coerce.Int, coerce.Float, coerce.Text, coerce.Text},
	)
	want := []string{"column_int_id", "column_float_amount", "", "column_text_cafe_name"}
	if got := indexedNames(cols); !reflect.DeepEqual(got, want) {
		t.Errorf("indexed names = %v, want %v", got, want)
	}
}

func TestRegenerateIndexedNames_Collisions(t *testing.T) {
	cols := BuildSchema(
		[]string{"Name", "name", "NAME!", "other"},
		[]bool{true, true, true, true},
		[]coerce.Type{coerce.Text, coerce.Text, coerce.Text, coerce.Unset},
	)
	want := []string{"column_text_name", "column_text_name2", "column_text_name3", ""}
	if got := indexedNames(cols); !reflect.DeepEqual(got, want) {
		t.Errorf("indexed names = %v, want %v", got, want)
	}
}

func TestRegenerateIndexedNames_Idempotent(t *testing.T) {
	cols := BuildSchema(
		[]string{"a b", "a-b", "a_b", "c"},
		[]bool{true, true, true, false},
		[]coerce.Type{coerce.Int, coerce.Int, coerce.Int, coerce.Date},
	)
	once := RegenerateIndexedNames(cols)
	twice := RegenerateIndexedNames(once)
	if !reflect.DeepEqual(indexedNames(once), indexedNames(twice)) {
		t.Errorf("not idempotent: %v then %v", indexedNames(once), indexedNames(twice))
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"First Name":   "first_name",
		"  Zip--Code ": "zip_code",
		"Año":          "ano",
		"已":            "column",
		"snake_case":   "snake_case",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNamesMatch(t *testing.T) {
	cols := BuildSchema([]string{"a", "b"}, nil, nil)
	if !NamesMatch(cols, []string{"a", "b"}) {
		t.Error("expected match")
	}
	if NamesMatch(cols, []string{"b", "a"}) {
		t.Error("order must matter")
	}
	if NamesMatch(cols, []string{"a"}) {
		t.Error("length must matter")
	}
}

func TestApplyOverrides_UntouchedKeepValues(t *testing.T) {
	cols := BuildSchema([]string{"id", "amount", "name"}, []bool{false, true, false},
		[]coerce.Type{coerce.Unset, coerce.Float, coerce.Unset})
	cols[1].Min = coerce.FloatValue(1.5)
	cols[1].Max = coerce.FloatValue(99)

	out, touched, err := ApplyOverrides(cols, []Override{{Name: "id", Type: coerce.Int, Indexed: true}})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if !touched["id"] || len(touched) != 1 {
		t.Errorf("touched = %v, want only id", touched)
	}
	if out[0].IndexedName == nil || *out[0].IndexedName != "column_int_id" {
		t.Errorf("id indexed name = %v", out[0].IndexedName)
	}
	if !reflect.DeepEqual(out[1], cols[1]) {
		t.Errorf("untouched column changed: %+v -> %+v", cols[1], out[1])
	}
	if !reflect.DeepEqual(out[2], cols[2]) {
		t.Errorf("untouched column changed: %+v -> %+v", cols[2], out[2])
	}
}

func TestApplyOverrides_UntouchedNameWinsCollision(t *testing.T) {
	cols := BuildSchema([]string{"Total", "total"}, []bool{false, true},
		[]coerce.Type{coerce.Unset, coerce.Int})

	out, _, err := ApplyOverrides(cols, []Override{{Name: "Total", Type: coerce.Int, Indexed: true}})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if got := *out[1].IndexedName; got != "column_int_total" {
		t.Errorf("untouched indexed name = %q, want column_int_total", got)
	}
	if got := *out[0].IndexedName; got != "column_int_total2" {
		t.Errorf("new indexed name = %q, want column_int_total2", got)
	}
}

func TestApplyOverrides_UnknownColumn(t *testing.T) {
	cols := BuildSchema([]string{"a"}, nil, nil)
	_, _, err := ApplyOverrides(cols, []Override{{Name: "zzz", Type: coerce.Int, Indexed: true}})
	if err == nil || !strings.Contains(err.Error(), "no column named") {
		t.Errorf("err = %v, want no column named", err)
	}
}

func TestParseOverride(t *testing.T) {
	o, err := ParseOverride("id=int")
	if err != nil {
		t.Fatalf("ParseOverride: %v", err)
	}
	if o.Name != "id" || o.Type != coerce.Int || !o.Indexed {
		t.Errorf("override = %+v", o)
	}
	o, err = ParseOverride("id=unset")
	if err != nil || o.Indexed {
		t.Errorf("unset override = %+v, %v", o, err)
	}
	if _, err := ParseOverride("id"); err == nil {
		t.Error("expected error without =")
	}
}

func TestColumnJSON_RoundTrip(t *testing.T) {
	cols := BuildSchema([]string{"when"}, []bool{true}, []coerce.Type{coerce.Date})
	cols[0].Min, _ = coerce.CoerceString("2020-01-01", coerce.Date)
	cols[0].Max, _ = coerce.CoerceString("2021-06-30", coerce.Date)

	data, err := json.Marshal(cols)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"min":"2020-01-01"`) {
		t.Errorf("json = %s, want min as text", data)
	}

	var back []Column
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back[0].Min.Equal(cols[0].Min) || !back[0].Max.Equal(cols[0].Max) {
		t.Errorf("min/max = %+v/%+v, want %+v/%+v", back[0].Min, back[0].Max, cols[0].Min, cols[0].Max)
	}
	if *back[0].IndexedName != "column_date_when" {
		t.Errorf("IndexedName = %q", *back[0].IndexedName)
	}
}
