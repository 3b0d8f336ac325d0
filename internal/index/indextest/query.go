package indextest

import (
	"fmt"
	"strconv"
	"strings"
)

type matcher func(doc map[string]any) bool

func parse(q string) (matcher, error) {
	q = strings.TrimSpace(q)
	if q == "" || q == "*:*" {
		return func(map[string]any) bool { return true }, nil
	}
	clauses := splitAnd(q)
	if len(clauses) > 1 {
		var ms []matcher
		for _, c := range clauses {
			m, err := parse(c)
			if err != nil {
				return nil, err
			}
			ms = append(ms, m)
		}
		return func(d map[string]any) bool {
			for _, m := range ms {
				if !m(d) {
					return false
				}
			}
			return true
		}, nil
	}
	if strings.HasPrefix(q, "(") && strings.HasSuffix(q, ")") {
		return parse(q[1 : len(q)-1])
	}

	field, value, ok := cutField(q)
	if !ok {
		term := strings.ToLower(unquote(q))
		return func(d map[string]any) bool {
			return strings.Contains(strings.ToLower(fmt.Sprint(d["full_text"])), term)
		}, nil
	}
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		lo, hi, ok := strings.Cut(value[1:len(value)-1], " TO ")
		if !ok {
			return nil, fmt.Errorf("indextest: bad range %q", value)
		}
		lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
		return func(d map[string]any) bool {
			v, ok := d[field]
			if !ok {
				return false
			}
			if lo != "*" && compare(v, unquote(lo)) < 0 {
				return false
			}
			if hi != "*" && compare(v, unquote(hi)) > 0 {
				return false
			}
			return true
		}, nil
	}
	want := unquote(value)
	if want == "*" {
		return func(d map[string]any) bool {
			_, ok := d[field]
			return ok
		}, nil
	}
	return func(d map[string]any) bool {
		v, ok := d[field]
		return ok && compare(v, want) == 0
	}, nil
}

// cutField splits field:value when the prefix is a plain identifier.
func cutField(q string) (string, string, bool) {
	field, value, ok := strings.Cut(q, ":")
	if !ok || field == "" || strings.ContainsAny(field, ` "()[]`) {
		return "", "", false
	}
	return field, value, true
}

// splitAnd splits on AND outside quotes, brackets and parentheses.
func splitAnd(q string) []string {
	var out []string
	depth, quoted, last := 0, false, 0
	for i := 0; i < len(q); i++ {
		switch c := q[i]; {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth == 0 && strings.HasPrefix(q[i:], " AND "):
			out = append(out, strings.TrimSpace(q[last:i]))
			i += len(" AND ") - 1
			last = i + 1
		}
	}
	return append(out, strings.TrimSpace(q[last:]))
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(s[1 : len(s)-1])
	}
	return s
}

// compare orders a stored value against another value, numerically when
// both sides are numbers.
func compare(a, b any) int {
	af, aok := number(a)
	bf, bok := number(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	return strings.Compare(as, bs)
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
