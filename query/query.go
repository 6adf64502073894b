// Package query describes how a repository asks a store for rows: which
// relations to eager load, which conditions rows must satisfy and which
// field orders the result.
//
// Field names are Go field names of the storage entity (promoted fields
// included). SQL stores translate them to columns; the in-memory store
// evaluates them with reflection through Match and Compare.
package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-repository-core/internal/reflectx"
)

// Operator is a comparison operator.
type Operator string

// Supported operators.
const (
	OpEq  Operator = "="
	OpNe  Operator = "<>"
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpIn  Operator = "IN"
)

// Condition compares a field against a value.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

// Filter is a conjunction of conditions. An empty filter matches every row.
type Filter []Condition

// Eq matches rows where field equals value.
func Eq(field string, value any) Condition { return Condition{Field: field, Op: OpEq, Value: value} }

// Ne matches rows where field differs from value.
func Ne(field string, value any) Condition { return Condition{Field: field, Op: OpNe, Value: value} }

// Lt matches rows where field is less than value.
func Lt(field string, value any) Condition { return Condition{Field: field, Op: OpLt, Value: value} }

// Lte matches rows where field is less than or equal to value.
func Lte(field string, value any) Condition { return Condition{Field: field, Op: OpLte, Value: value} }

// Gt matches rows where field is greater than value.
func Gt(field string, value any) Condition { return Condition{Field: field, Op: OpGt, Value: value} }

// Gte matches rows where field is greater than or equal to value.
func Gte(field string, value any) Condition { return Condition{Field: field, Op: OpGte, Value: value} }

// In matches rows where field equals one of values.
func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Where builds a filter from conditions.
func Where(conds ...Condition) Filter { return Filter(conds) }

// Query is the backend-neutral description of a fetch.
type Query struct {
	Include []string
	Where   Filter
	OrderBy string
}

// WithInclude returns a copy of q that also eager loads relations.
func (q Query) WithInclude(relations ...string) Query {
	out := q
	out.Include = append(append([]string(nil), q.Include...), relations...)
	return out
}

// Includes reports whether relation is eager loaded by q.
func (q Query) Includes(relation string) bool {
	for _, name := range q.Include {
		if strings.EqualFold(name, relation) {
			return true
		}
	}
	return false
}

// Match reports whether the entity v points to satisfies every condition.
func (f Filter) Match(v any) (bool, error) {
	for _, cond := range f {
		ok, err := cond.Match(v)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Match evaluates a single condition against the entity v points to.
func (c Condition) Match(v any) (bool, error) {
	field, err := reflectx.FieldByName(v, c.Field)
	if err != nil {
		return false, err
	}
	actual := field.Interface()

	if c.Op == OpIn {
		values := reflect.ValueOf(c.Value)
		if values.Kind() != reflect.Slice && values.Kind() != reflect.Array {
			return false, fmt.Errorf("query: IN on %s expects a slice, got %T", c.Field, c.Value)
		}
		for i := 0; i < values.Len(); i++ {
			cmp, err := Compare(actual, values.Index(i).Interface())
			if err != nil {
				return false, err
			}
			if cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	cmp, err := Compare(actual, c.Value)
	if err != nil {
		return false, fmt.Errorf("query: %s: %w", c, err)
	}
	switch c.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("query: unsupported operator %q", c.Op)
	}
}

// Compare orders two scalar values of compatible kinds. Numbers compare
// across integer, unsigned and float kinds; strings, bools and times compare
// with their natural order; other comparable values only support equality.
func Compare(a, b any) (int, error) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	for av.Kind() == reflect.Ptr && !av.IsNil() {
		av = av.Elem()
	}
	for bv.Kind() == reflect.Ptr && !bv.IsNil() {
		bv = bv.Elem()
	}
	if !av.IsValid() || !bv.IsValid() {
		switch {
		case !av.IsValid() && !bv.IsValid():
			return 0, nil
		case !av.IsValid():
			return -1, nil
		default:
			return 1, nil
		}
	}

	if at, ok := av.Interface().(time.Time); ok {
		bt, ok := bv.Interface().(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare time with %s", bv.Type())
		}
		return at.Compare(bt), nil
	}

	switch {
	case isNumber(av.Kind()) && isNumber(bv.Kind()):
		return compareNumbers(av, bv), nil
	case av.Kind() == reflect.String && bv.Kind() == reflect.String:
		return strings.Compare(av.String(), bv.String()), nil
	case av.Kind() == reflect.Bool && bv.Kind() == reflect.Bool:
		x, y := av.Bool(), bv.Bool()
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if av.Type() == bv.Type() && av.Type().Comparable() {
		if av.Interface() == bv.Interface() {
			return 0, nil
		}
		return strings.Compare(fmt.Sprint(av.Interface()), fmt.Sprint(bv.Interface())), nil
	}
	return 0, fmt.Errorf("cannot compare %s with %s", av.Type(), bv.Type())
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func compareNumbers(a, b reflect.Value) int {
	switch {
	case isInt(a.Kind()) && isInt(b.Kind()):
		return cmpOrdered(a.Int(), b.Int())
	case isUint(a.Kind()) && isUint(b.Kind()):
		return cmpOrdered(a.Uint(), b.Uint())
	default:
		return cmpOrdered(toFloat(a), toFloat(b))
	}
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v.Kind()):
		return float64(v.Int())
	case isUint(v.Kind()):
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
