// Package query translates the "<operator>.<value>" filter convention used by
// the data-access tool into store-neutral predicates.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator identifies the comparison applied by a Predicate.
type Operator string

const (
	OpEq    Operator = "eq"
	OpILike Operator = "ilike"
	OpGt    Operator = "gt"
	OpLt    Operator = "lt"
	OpGte   Operator = "gte"
	OpNeq   Operator = "neq"
	OpIn    Operator = "in"
)

// DefaultLimit bounds result sets when the caller does not ask for a size.
const DefaultLimit = 20

// MaxLimit is the largest page the data-access tool will ever return.
const MaxLimit = 100

// prefixes is checked in order; the first match wins. A literal value that
// happens to start with one of these strings is read as an operator.
var prefixes = []Operator{OpEq, OpILike, OpGt, OpLt, OpGte, OpNeq, OpIn}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Predicate is a single column comparison.
type Predicate struct {
	Column   string
	Operator Operator
	Value    string
	Values   []string
}

// BuildFilter parses raw as "<operator>.<value>", defaulting to equality.
func BuildFilter(column, raw string) Predicate {
	for _, op := range prefixes {
		prefix := string(op) + "."
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		value := strings.TrimPrefix(raw, prefix)
		p := Predicate{Column: column, Operator: op, Value: value}
		if op == OpIn {
			p.Values = strings.Split(value, ",")
		}
		return p
	}
	return Predicate{Column: column, Operator: OpEq, Value: raw}
}

// Direction is the sort direction of an Order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order describes a single ORDER BY clause.
type Order struct {
	Column    string
	Direction Direction
}

// ParseOrder reads "<column>.<asc|desc>". Anything other than desc sorts ascending.
func ParseOrder(raw string) Order {
	raw = strings.TrimSpace(raw)
	column, direction, found := strings.Cut(raw, ".")
	if !found {
		return Order{Column: raw, Direction: Asc}
	}
	if strings.EqualFold(direction, string(Desc)) {
		return Order{Column: column, Direction: Desc}
	}
	return Order{Column: column, Direction: Asc}
}

// Query is a generic single-table read.
type Query struct {
	Table   string
	Columns []string
	Filters []Predicate
	Order   *Order
	Limit   int
}

// Normalize applies the default and maximum row caps.
func (q *Query) Normalize() {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
}

// Validate rejects identifiers that cannot be safely quoted.
func (q Query) Validate() error {
	if err := ValidIdentifier(q.Table); err != nil {
		return err
	}
	for _, col := range q.Columns {
		if err := ValidIdentifier(col); err != nil {
			return err
		}
	}
	for _, f := range q.Filters {
		if err := ValidIdentifier(f.Column); err != nil {
			return err
		}
	}
	if q.Order != nil {
		if err := ValidIdentifier(q.Order.Column); err != nil {
			return err
		}
	}
	return nil
}

// ParseColumns splits a select list such as "id,name". "*" and empty mean all columns.
func ParseColumns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return nil
	}
	parts := strings.Split(raw, ",")
	cols := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			cols = append(cols, part)
		}
	}
	return cols
}

// ValidIdentifier reports whether name is usable as a table or column name.
func ValidIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
