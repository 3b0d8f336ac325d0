// Package coerce converts raw string cells into typed values and tracks
// per-column statistics while doing so.
package coerce

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the declared type of a dataset column.
type Type string

const (
	Unset    Type = "unset"
	Text     Type = "text"
	Int      Type = "int"
	Float    Type = "float"
	Bool     Type = "bool"
	Date     Type = "date"
	Time     Type = "time"
	DateTime Type = "datetime"
)

// Types lists every declared column type, in the order type guessing prefers them.
var Types = []Type{Bool, Int, Float, Date, Time, DateTime, Text}

// ParseType returns the Type named by s. The empty string maps to Unset.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return Unset, nil
	case Unset, Text, Int, Float, Bool, Date, Time, DateTime:
		return t, nil
	case "unicode", "string":
		return Text, nil
	}
	return Unset, fmt.Errorf("coerce: unknown type %q", s)
}

// Ordinal reports whether values of t have a meaningful min/max.
func (t Type) Ordinal() bool {
	switch t {
	case Int, Float, Date, Time, DateTime:
		return true
	}
	return false
}

// Temporal reports whether t is one of the date/time family.
func (t Type) Temporal() bool {
	return t == Date || t == Time || t == DateTime
}

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindText
	KindInt
	KindFloat
	KindBool
	KindDate
	KindTime
	KindDateTime
)

var kindNames = [...]string{"null", "text", "int", "float", "bool", "date", "time", "datetime"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// KindOf returns the Value kind produced by coercing to t.
func KindOf(t Type) Kind {
	switch t {
	case Text:
		return KindText
	case Int:
		return KindInt
	case Float:
		return KindFloat
	case Bool:
		return KindBool
	case Date:
		return KindDate
	case Time:
		return KindTime
	case DateTime:
		return KindDateTime
	}
	return KindNull
}

// DefaultDate seeds partial temporal input. Times are stored on this date.
var DefaultDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// IndexTimeLayout is the wire format of temporal values in the index.
const IndexTimeLayout = "2006-01-02T15:04:05Z"

// Value is a typed cell. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
}

func Null() Value                { return Value{} }
func TextValue(s string) Value   { return Value{Kind: KindText, Str: s} }
func IntValue(n int64) Value     { return Value{Kind: KindInt, Int: n} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

// DateValue truncates t to midnight UTC.
func DateValue(t time.Time) Value {
	t = t.UTC()
	return Value{Kind: KindDate, Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// TimeValue keeps the clock of t and moves it onto DefaultDate.
func TimeValue(t time.Time) Value {
	t = t.UTC()
	return Value{Kind: KindTime, Time: time.Date(9999, time.December, 31, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)}
}

// DateTimeValue drops sub-second precision, which the index cannot store.
func DateTimeValue(t time.Time) Value {
	return Value{Kind: KindDateTime, Time: t.UTC().Truncate(time.Second)}
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindText:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	default:
		return v.Time.Equal(o.Time)
	}
}

// Compare orders two values of the same kind. Values of different kinds
// compare by kind.
func (v Value) Compare(o Value) int {
	if v.Kind != o.Kind {
		return cmpInt(int64(v.Kind), int64(o.Kind))
	}
	switch v.Kind {
	case KindText:
		return strings.Compare(v.Str, o.Str)
	case KindInt:
		return cmpInt(v.Int, o.Int)
	case KindFloat:
		switch {
		case v.Float < o.Float:
			return -1
		case v.Float > o.Float:
			return 1
		}
		return 0
	case KindBool:
		if v.Bool == o.Bool {
			return 0
		}
		if !v.Bool {
			return -1
		}
		return 1
	case KindDate, KindTime, KindDateTime:
		return v.Time.Compare(o.Time)
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Stringify renders v in the canonical text form that Coerce accepts back.
func Stringify(v Value) string {
	switch v.Kind {
	case KindText:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Time.Format("2006-01-02")
	case KindTime:
		return v.Time.Format("15:04:05")
	case KindDateTime:
		return v.Time.Format("2006-01-02T15:04:05")
	}
	return ""
}

// Interface returns the value in the shape the index expects on the wire.
func (v Value) Interface() any {
	switch v.Kind {
	case KindText:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindDate, KindTime, KindDateTime:
		return v.Time.UTC().Format(IndexTimeLayout)
	}
	return nil
}
