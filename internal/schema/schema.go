// Package schema derives and maintains a dataset's ordered column list and
// the index field names of its typed columns.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/zulandar/datayard/internal/coerce"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Column describes one column of a dataset.
type Column struct {
	Name        string
	Type        coerce.Type
	Indexed     bool
	IndexedName *string
	Min         coerce.Value
	Max         coerce.Value
	// GuessedType is the type inferred from the first upload. It is advisory
	// until a reindex adopts it as Type.
	GuessedType coerce.Type
}

type columnJSON struct {
	Name        string      `json:"name"`
	Type        coerce.Type `json:"type"`
	Indexed     bool        `json:"indexed"`
	IndexedName *string     `json:"indexed_name"`
	Min         *string     `json:"min"`
	Max         *string     `json:"max"`
	GuessedType coerce.Type `json:"guessed_type,omitempty"`
}

// MarshalJSON stores min/max in their canonical text form.
func (c Column) MarshalJSON() ([]byte, error) {
	return json.Marshal(columnJSON{
		Name:        c.Name,
		Type:        c.Type,
		Indexed:     c.Indexed,
		IndexedName: c.IndexedName,
		Min:         stringifyOrNil(c.Min),
		Max:         stringifyOrNil(c.Max),
		GuessedType: c.GuessedType,
	})
}

// UnmarshalJSON re-types min/max using the column's declared type.
func (c *Column) UnmarshalJSON(data []byte) error {
	var raw columnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		raw.Type = coerce.Unset
	}
	*c = Column{
		Name:        raw.Name,
		Type:        raw.Type,
		Indexed:     raw.Indexed,
		IndexedName: raw.IndexedName,
		GuessedType: raw.GuessedType,
	}
	var err error
	if c.Min, err = coerce.Coerce(raw.Min, c.Type); err != nil {
		return fmt.Errorf("schema: column %q min: %w", c.Name, err)
	}
	if c.Max, err = coerce.Coerce(raw.Max, c.Type); err != nil {
		return fmt.Errorf("schema: column %q max: %w", c.Name, err)
	}
	return nil
}

func stringifyOrNil(v coerce.Value) *string {
	if v.IsNull() {
		return nil
	}
	s := coerce.Stringify(v)
	return &s
}

// Typed reports whether the column has a typed field in the index.
func (c Column) Typed() bool {
	return c.Indexed && c.Type != coerce.Unset && c.IndexedName != nil
}

// BuildSchema returns one column per name. indexed and types may be nil or
// shorter than names; missing entries default to unindexed and Unset.
func BuildSchema(names []string, indexed []bool, types []coerce.Type) []Column {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Type: coerce.Unset}
		if i < len(indexed) {
			cols[i].Indexed = indexed[i]
		}
		if i < len(types) && types[i] != "" {
			cols[i].Type = types[i]
		}
	}
	return RegenerateIndexedNames(cols)
}

// RegenerateIndexedNames recomputes indexed_name for every column from its
// name, type and indexed flag. Names are column_<type>_<slug>; a collision
// appends 2, 3, ... The result depends only on the input, so applying it
// twice is the same as applying it once.
func RegenerateIndexedNames(cols []Column) []Column {
	return assignIndexedNames(cols, nil)
}

// assignIndexedNames keeps the existing indexed_name of every column for
// which keep returns true and derives the rest around them.
func assignIndexedNames(cols []Column, keep func(Column) bool) []Column {
	out := make([]Column, len(cols))
	used := make(map[string]bool, len(cols))
	kept := make([]bool, len(cols))
	for i, c := range cols {
		if keep != nil && keep(c) && c.IndexedName != nil && wantsIndexedName(c) {
			used[*c.IndexedName] = true
			kept[i] = true
		}
	}
	for i, c := range cols {
		if kept[i] {
			out[i] = c
			continue
		}
		c.IndexedName = nil
		if wantsIndexedName(c) {
			base := fmt.Sprintf("column_%s_%s", c.Type, Slugify(c.Name))
			name := base
			for n := 2; used[name]; n++ {
				name = base + strconv.Itoa(n)
			}
			used[name] = true
			c.IndexedName = &name
		}
		out[i] = c
	}
	return out
}

func wantsIndexedName(c Column) bool {
	return c.Indexed && c.Type != coerce.Unset && c.Type != ""
}

var nonWord = regexp.MustCompile(`[^a-z0-9_]+`)

// Slugify folds s to lowercase ASCII and collapses non-word runs to "_".
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	for _, r := range folded {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	slug := strings.Trim(nonWord.ReplaceAllString(b.String(), "_"), "_")
	if slug == "" {
		slug = "column"
	}
	return slug
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// NamesMatch reports whether names equals the schema's column names,
// order included.
func NamesMatch(cols []Column, names []string) bool {
	if len(cols) != len(names) {
		return false
	}
	for i, c := range cols {
		if c.Name != names[i] {
			return false
		}
	}
	return true
}

// Find returns the index of the named column, or -1.
func Find(cols []Column, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Override changes how one column is typed and indexed.
type Override struct {
	Name    string
	Type    coerce.Type
	Indexed bool
}

// ParseOverride reads "name=type" (indexed) or "name=unset" (unindexed).
func ParseOverride(s string) (Override, error) {
	name, typ, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return Override{}, fmt.Errorf("schema: override %q: want name=type", s)
	}
	t, err := coerce.ParseType(typ)
	if err != nil {
		return Override{}, fmt.Errorf("schema: override %q: %w", s, err)
	}
	return Override{Name: strings.TrimSpace(name), Type: t, Indexed: t != coerce.Unset}, nil
}

// ApplyOverrides returns a copy of cols with overrides applied and the set of
// columns whose typing changed. Changed columns lose their min/max, which the
// caller recomputes; untouched columns are returned as they were.
func ApplyOverrides(cols []Column, overrides []Override) ([]Column, map[string]bool, error) {
	out := make([]Column, len(cols))
	copy(out, cols)
	touched := make(map[string]bool)
	for _, o := range overrides {
		i := Find(out, o.Name)
		if i < 0 {
			return nil, nil, fmt.Errorf("schema: no column named %q", o.Name)
		}
		if out[i].Type == o.Type && out[i].Indexed == o.Indexed {
			continue
		}
		out[i].Type = o.Type
		out[i].Indexed = o.Indexed
		out[i].Min = coerce.Null()
		out[i].Max = coerce.Null()
		touched[o.Name] = true
	}
	return assignIndexedNames(out, func(c Column) bool { return !touched[c.Name] }), touched, nil
}
