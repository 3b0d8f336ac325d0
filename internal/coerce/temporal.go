package coerce

import (
	"fmt"
	"strings"
	"time"
)

// Layouts are tried in order; the first that parses wins. Numeric dates are
// read month first.
var (
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02 3:04 PM",
		"2006-01-02 3:04:05 PM",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
		"1/2/2006 3:04PM",
		"1/2/06 15:04",
		"1/2/06 3:04 PM",
		"Jan 2, 2006 15:04:05",
		"Jan 2, 2006 15:04",
		"Jan 2, 2006 3:04 PM",
		"January 2, 2006 15:04",
		"January 2, 2006 3:04 PM",
		"2 Jan 2006 15:04:05",
		"2 Jan 2006 15:04",
		time.RFC1123Z,
		time.RFC1123,
		time.RFC850,
		time.ANSIC,
		time.UnixDate,
	}

	dateLayouts = []string{
		"2006-01-02",
		"2006-1-2",
		"2006/01/02",
		"2006/1/2",
		"1/2/2006",
		"1-2-2006",
		"1.2.2006",
		"1/2/06",
		"1-2-06",
		"Jan 2, 2006",
		"Jan 2 2006",
		"January 2, 2006",
		"January 2 2006",
		"Mon, Jan 2, 2006",
		"Monday, January 2, 2006",
		"2 Jan 2006",
		"2 January 2006",
		"02-Jan-2006",
		"2-Jan-06",
		"20060102",
	}

	// monthYearLayouts carry no day; the default day applies, clamped to
	// the month's last day.
	monthYearLayouts = []string{
		"Jan 2006",
		"January 2006",
		"Jan-2006",
		"2006-01",
		"2006/01",
	}

	// monthDayLayouts carry no year; the default year applies.
	monthDayLayouts = []string{
		"Jan 2",
		"January 2",
		"2 Jan",
		"2 January",
	}

	// yearLayouts carry only a year.
	yearLayouts = []string{
		"2006",
	}

	// clockLayouts carry no date; the default date applies.
	clockLayouts = []string{
		"15:04:05.999999999",
		"15:04:05",
		"15:04",
		"3:04:05 PM",
		"3:04:05PM",
		"3:04 PM",
		"3:04PM",
		"3 PM",
		"3PM",
	}
)

// ParseTemporal parses s permissively. Missing parts are filled from
// DefaultDate, so "10:30" is 9999-12-31 10:30, "Mar 5" is 9999-03-05 and
// "Feb 2021" is 2021-02-28.
// The result is always in UTC.
func ParseTemporal(s string) (time.Time, error) {
	in := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if in == "" {
		return time.Time{}, fmt.Errorf("coerce: empty temporal value")
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range monthYearLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return seedDay(t.Year(), t.Month()), nil
		}
	}
	for _, layout := range yearLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return seedDay(t.Year(), DefaultDate.Month()), nil
		}
	}
	for _, layout := range monthDayLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return time.Date(DefaultDate.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return time.Date(DefaultDate.Year(), DefaultDate.Month(), DefaultDate.Day(),
				t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("coerce: unrecognised date/time %q", s)
}

// seedDay is DefaultDate's day in the given month, or the month's last day
// when it is shorter.
func seedDay(year int, month time.Month) time.Time {
	day := DefaultDate.Day()
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// HasClock reports whether t carries a non-midnight time of day.
func HasClock(t time.Time) bool {
	return t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0
}

// IsDefaultDate reports whether t falls on DefaultDate, i.e. no date was given.
func IsDefaultDate(t time.Time) bool {
	y, m, d := t.Date()
	return y == DefaultDate.Year() && m == DefaultDate.Month() && d == DefaultDate.Day()
}

// TemporalType classifies a parsed value: pure date, pure time or datetime.
func TemporalType(t time.Time) Type {
	switch {
	case IsDefaultDate(t):
		return Time
	case !HasClock(t):
		return Date
	}
	return DateTime
}
