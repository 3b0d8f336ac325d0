package coerce

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// nullTokens are the case-insensitive cell values that mean "no value".
var nullTokens = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"none": true,
	"null": true,
	"nil":  true,
	"-":    true,
	"#n/a": true,
}

var trueTokens = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true}
var falseTokens = map[string]bool{"false": true, "f": true, "no": true, "n": true, "0": true}

// numericPattern rejects NaN, Inf and hex forms that strconv would accept.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TypeCoercionError reports a cell that could not be converted. It is
// recoverable: the row is still stored without the typed field.
type TypeCoercionError struct {
	Value string
	Type  Type
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("coerce: cannot convert %q to %s", e.Value, e.Type)
}

// IsNullToken reports whether s is one of the null tokens.
func IsNullToken(s string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(s))]
}

// Coerce converts raw to the target type. A nil raw or a null token yields
// Null for every type. Unset columns are never coerced and yield Null.
func Coerce(raw *string, t Type) (Value, error) {
	if raw == nil || IsNullToken(*raw) {
		return Null(), nil
	}
	s := *raw
	switch t {
	case Unset:
		return Null(), nil
	case Text:
		return TextValue(s), nil
	case Int:
		n, err := parseInt(s)
		if err != nil {
			return Null(), &TypeCoercionError{Value: s, Type: t}
		}
		return IntValue(n), nil
	case Float:
		f, err := parseFloat(s)
		if err != nil {
			return Null(), &TypeCoercionError{Value: s, Type: t}
		}
		return FloatValue(f), nil
	case Bool:
		b, ok := parseBool(s)
		if !ok {
			return Null(), &TypeCoercionError{Value: s, Type: t}
		}
		return BoolValue(b), nil
	case Date, Time, DateTime:
		ts, err := ParseTemporal(s)
		if err != nil {
			return Null(), &TypeCoercionError{Value: s, Type: t}
		}
		switch t {
		case Date:
			return DateValue(ts), nil
		case Time:
			return TimeValue(ts), nil
		}
		return DateTimeValue(ts), nil
	}
	return Null(), fmt.Errorf("coerce: unknown type %q", t)
}

// CoerceString is Coerce for a non-nil cell.
func CoerceString(raw string, t Type) (Value, error) {
	return Coerce(&raw, t)
}

// IsCoercionError reports whether err is a TypeCoercionError.
func IsCoercionError(err error) bool {
	var ce *TypeCoercionError
	return errors.As(err, &ce)
}

// cleanNumber strips currency and grouping symbols. A value wrapped in
// parentheses is an accounting negative.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if neg && s != "" && s[0] != '-' {
		s = "-" + s
	}
	return s
}

func parseInt(s string) (int64, error) {
	s = cleanNumber(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	s = cleanNumber(s)
	if !numericPattern.MatchString(s) {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if trueTokens[s] {
		return true, true
	}
	if falseTokens[s] {
		return false, true
	}
	return false, false
}
