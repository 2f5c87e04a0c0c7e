package gateway

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
)

// Cond compares one column against a value.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Filter is a disjunction of conjunctions. The zero Filter matches every row.
type Filter struct {
	clauses [][]Cond
}

func Eq(column string, value any) Filter {
	return Filter{clauses: [][]Cond{{{Column: column, Op: OpEq, Value: value}}}}
}

func Neq(column string, value any) Filter {
	return Filter{clauses: [][]Cond{{{Column: column, Op: OpNeq, Value: value}}}}
}

// And combines filters so a row must match all of them.
func And(filters ...Filter) Filter {
	out := Filter{}
	for _, f := range filters {
		out = out.and(f)
	}
	return out
}

// Or combines filters so a row must match at least one of them.
func Or(filters ...Filter) Filter {
	out := Filter{}
	for _, f := range filters {
		if f.IsEmpty() {
			return Filter{}
		}
		out.clauses = append(out.clauses, f.clauses...)
	}
	return out
}

func (f Filter) and(g Filter) Filter {
	if f.IsEmpty() {
		return g
	}
	if g.IsEmpty() {
		return f
	}
	out := Filter{clauses: make([][]Cond, 0, len(f.clauses)*len(g.clauses))}
	for _, a := range f.clauses {
		for _, b := range g.clauses {
			c := make([]Cond, 0, len(a)+len(b))
			c = append(c, a...)
			c = append(c, b...)
			out.clauses = append(out.clauses, c)
		}
	}
	return out
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.clauses) == 0
}

// Clauses returns the disjunction; each inner slice is a conjunction.
func (f Filter) Clauses() [][]Cond {
	return f.clauses
}

// Match evaluates the filter against a row.
func (f Filter) Match(r Row) bool {
	if f.IsEmpty() {
		return true
	}
	for _, clause := range f.clauses {
		ok := true
		for _, c := range clause {
			eq := Equal(r[c.Column], c.Value)
			if (c.Op == OpEq && !eq) || (c.Op == OpNeq && eq) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	if f.IsEmpty() {
		return "true"
	}
	ors := make([]string, 0, len(f.clauses))
	for _, clause := range f.clauses {
		ands := make([]string, 0, len(clause))
		for _, c := range clause {
			ands = append(ands, fmt.Sprintf("%s.%s.%v", c.Column, c.Op, c.Value))
		}
		ors = append(ors, "and("+strings.Join(ands, ",")+")")
	}
	return "or(" + strings.Join(ors, ",") + ")"
}

// Equal compares two column values. Numbers compare by value whatever their
// Go type, times compare as instants, and strings holding a timestamp compare
// equal to the matching time.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := asInt(a); ok {
		if y, ok := asInt(b); ok {
			return x == y
		}
	}
	if x, ok := asFloat(a); ok {
		if y, ok := asFloat(b); ok {
			return x == y
		}
	}
	if x, ok := asTime(a); ok {
		if y, ok := asTime(b); ok {
			return x.Equal(y)
		}
	}
	if x, ok := asString(a); ok {
		if y, ok := asString(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two column values: -1, 0 or 1. Nil sorts first.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := asInt(a); ok {
		if y, ok := asInt(b); ok {
			return cmp(x, y)
		}
	}
	if x, ok := asFloat(a); ok {
		if y, ok := asFloat(b); ok {
			return cmp(x, y)
		}
	}
	if x, ok := asTime(a); ok {
		if y, ok := asTime(b); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmp[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func asInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == float64(int64(f)) {
			return int64(f), true
		}
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	if b, ok := v.([]byte); ok {
		return string(b), true
	}
	return "", false
}
