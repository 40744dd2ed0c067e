package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Match evaluates the predicate against a single column value. It follows SQL
// semantics for NULL: a nil value never matches.
func (p Predicate) Match(value any) bool {
	if value == nil {
		return false
	}
	actual := Stringify(value)
	switch p.Operator {
	case OpEq:
		return actual == p.Value
	case OpNeq:
		return actual != p.Value
	case OpGt:
		return compare(actual, p.Value) > 0
	case OpGte:
		return compare(actual, p.Value) >= 0
	case OpLt:
		return compare(actual, p.Value) < 0
	case OpILike:
		return likePattern(p.Value).MatchString(actual)
	case OpIn:
		for _, candidate := range p.Values {
			if actual == candidate {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Stringify renders a column value the way it would be compared in SQL text form.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Compare orders two column values, numerically when both parse as numbers.
func Compare(a, b any) int {
	return compare(Stringify(a), Stringify(b))
}

func compare(a, b string) int {
	af, aErr := strconv.ParseFloat(a, 64)
	bf, bErr := strconv.ParseFloat(b, 64)
	if aErr == nil && bErr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
