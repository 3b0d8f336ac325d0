package reader

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/datayard/internal/coerce"
)

// cellKind is the physical type of a spreadsheet cell.
type cellKind uint8

const (
	cellBlank cellKind = iota
	cellText
	cellNumber
	cellBool
	cellDate
	cellTime
	cellDateTime
)

// cell is a normalised spreadsheet value with its physical kind.
type cell struct {
	kind cellKind
	text string
	// integral is set for numbers without a fractional part.
	integral bool
}

// renderNumber prints integral values without a decimal point.
func renderNumber(f float64) cell {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return cell{kind: cellNumber, text: strconv.FormatInt(int64(f), 10), integral: true}
	}
	return cell{kind: cellNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// renderTemporal normalises a date cell: an all-zero time is a pure date and
// an all-zero date is a pure time. serial is the raw day count, whose
// integer part is zero when the cell holds only a time.
func renderTemporal(t time.Time, serial float64) cell {
	t = t.Round(time.Second)
	switch {
	case serial >= 0 && serial < 1:
		return cell{kind: cellTime, text: t.Format("15:04:05")}
	case !coerce.HasClock(t):
		return cell{kind: cellDate, text: t.Format("2006-01-02")}
	}
	return cell{kind: cellDateTime, text: t.Format("2006-01-02T15:04:05")}
}

// guessFromCells guesses column types from physical kinds. More than one
// kind in a column, blanks aside, degrades to text.
func guessFromCells(columns int, sample [][]cell) []coerce.Type {
	types := make([]coerce.Type, columns)
	for i := range types {
		kinds := make(map[cellKind]bool)
		allIntegral := true
		for _, row := range sample {
			if i >= len(row) || row[i].kind == cellBlank {
				continue
			}
			kinds[row[i].kind] = true
			if row[i].kind == cellNumber && !row[i].integral {
				allIntegral = false
			}
		}
		types[i] = coerce.Text
		if len(kinds) != 1 {
			continue
		}
		for k := range kinds {
			switch k {
			case cellNumber:
				types[i] = coerce.Float
				if allIntegral {
					types[i] = coerce.Int
				}
			case cellBool:
				types[i] = coerce.Bool
			case cellDate:
				types[i] = coerce.Date
			case cellTime:
				types[i] = coerce.Time
			case cellDateTime:
				types[i] = coerce.DateTime
			}
		}
	}
	return types
}

func cellTexts(cells []cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.text
	}
	return out
}

// builtinDateFormats are the Excel number format ids that display dates or
// times.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

var (
	quotedFormat  = regexp.MustCompile(`"[^"]*"|\\.|\[[^\]]*\]`)
	dateFormatTok = regexp.MustCompile(`[ydhs]|(^|[^0#])m`)
)

// isDateFormat reports whether a number format displays a date or time.
func isDateFormat(id int, custom string) bool {
	if builtinDateFormats[id] {
		return true
	}
	if custom == "" {
		return false
	}
	f := strings.ToLower(quotedFormat.ReplaceAllString(custom, ""))
	if i := strings.IndexByte(f, ';'); i >= 0 {
		f = f[:i]
	}
	return dateFormatTok.MatchString(f)
}
