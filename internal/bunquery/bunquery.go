// Package bunquery translates query.Query values into bun select modifiers
// using the model's bun table schema.
package bunquery

import (
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-repository-core/query"
)

// Modifier changes a select query.
type Modifier func(*bun.SelectQuery) *bun.SelectQuery

// Part selects which parts of a query Build translates.
type Part int

const (
	Filter Part = 1 << iota
	Order
	Include

	All = Filter | Order | Include
)

// Build validates q against table and returns the modifiers implementing
// the requested parts. Unknown fields and relations are reported here, not
// when the query runs.
func Build(table *schema.Table, q query.Query, parts Part) ([]Modifier, error) {
	var mods []Modifier

	if parts&Filter != 0 {
		for _, cond := range q.Where {
			col, err := Column(table, cond.Field)
			if err != nil {
				return nil, err
			}
			mod, err := where(col, cond)
			if err != nil {
				return nil, err
			}
			mods = append(mods, mod)
		}
	}

	if parts&Order != 0 && q.OrderBy != "" {
		col, err := Column(table, q.OrderBy)
		if err != nil {
			return nil, err
		}
		mods = append(mods, func(sel *bun.SelectQuery) *bun.SelectQuery {
			return sel.OrderExpr("?TableAlias.? ASC", bun.Ident(col))
		})
	}

	if parts&Include != 0 {
		for _, name := range q.Include {
			if _, ok := table.Relations[name]; !ok {
				return nil, fmt.Errorf("bunquery: %s has no relation %q", table.Name, name)
			}
			mods = append(mods, func(sel *bun.SelectQuery) *bun.SelectQuery {
				return sel.Relation(name)
			})
		}
	}
	return mods, nil
}

// Apply runs mods over sel.
func Apply(sel *bun.SelectQuery, mods []Modifier) *bun.SelectQuery {
	for _, mod := range mods {
		sel = mod(sel)
	}
	return sel
}

// Column returns the column backing the Go field goName.
func Column(table *schema.Table, goName string) (string, error) {
	for _, f := range table.Fields {
		if f.GoName == goName {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("bunquery: %s has no field %q", table.Name, goName)
}

func where(col string, cond query.Condition) (Modifier, error) {
	switch cond.Op {
	case query.OpIn:
		return func(sel *bun.SelectQuery) *bun.SelectQuery {
			return sel.Where("?TableAlias.? IN (?)", bun.Ident(col), bun.In(cond.Value))
		}, nil
	case query.OpEq, query.OpNe, query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		expr := "?TableAlias.? " + string(cond.Op) + " ?"
		return func(sel *bun.SelectQuery) *bun.SelectQuery {
			return sel.Where(expr, bun.Ident(col), cond.Value)
		}, nil
	default:
		return nil, fmt.Errorf("bunquery: unsupported operator %q", cond.Op)
	}
}
