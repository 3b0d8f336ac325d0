package reader

import "github.com/zulandar/datayard/internal/coerce"

// GuessTypes infers one type per column from sampled text rows. Null tokens
// are ignored; a column with no values is text.
func GuessTypes(columns int, sample [][]string) []coerce.Type {
	types := make([]coerce.Type, columns)
	for i := range types {
		var values []string
		for _, row := range sample {
			if i < len(row) && !coerce.IsNullToken(row[i]) {
				values = append(values, row[i])
			}
		}
		types[i] = GuessType(values)
	}
	return types
}

// GuessType picks the narrowest type every value converts to.
func GuessType(values []string) coerce.Type {
	if len(values) == 0 {
		return coerce.Text
	}
	if allConvert(values, coerce.Bool) && !allConvert(values, coerce.Int) {
		return coerce.Bool
	}
	if allConvert(values, coerce.Int) {
		return coerce.Int
	}
	if allConvert(values, coerce.Float) {
		return coerce.Float
	}
	return guessTemporal(values)
}

func allConvert(values []string, t coerce.Type) bool {
	for _, v := range values {
		if _, err := coerce.CoerceString(v, t); err != nil {
			return false
		}
	}
	return true
}

// guessTemporal classifies values that all parse as dates or times. Dates
// and datetimes mix into datetime; a pure time mixed with anything else is
// not a consistent column and stays text.
func guessTemporal(values []string) coerce.Type {
	seen := make(map[coerce.Type]bool)
	for _, v := range values {
		ts, err := coerce.ParseTemporal(v)
		if err != nil {
			return coerce.Text
		}
		seen[coerce.TemporalType(ts)] = true
	}
	switch {
	case len(seen) == 1 && seen[coerce.Date]:
		return coerce.Date
	case len(seen) == 1 && seen[coerce.Time]:
		return coerce.Time
	case seen[coerce.Time]:
		return coerce.Text
	}
	return coerce.DateTime
}
