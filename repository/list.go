package repository

import (
	"context"
	"fmt"
	"iter"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/scope"
)

// List returns the entities matching filter ordered ascending by the orderBy
// field, or by key when orderBy is empty. The sequence is lazy and runs the
// query again on every range. Tracked instances stand in for their rows and
// rows pending removal are skipped; List never attaches rows to the scope.
//
// A cancelled context, a store error or a mapping error is yielded once and
// ends the sequence.
func (r *Core[D, K, E]) List(ctx context.Context, filter query.Filter, orderBy string) iter.Seq2[D, error] {
	if orderBy == "" {
		orderBy = r.opts.keyField
	}
	q := r.opts.listInclude(query.Query{Where: filter, OrderBy: orderBy})

	return func(yield func(D, error) bool) {
		var zero D
		if err := ctx.Err(); err != nil {
			yield(zero, err)
			return
		}

		for row, err := range r.source.Find(ctx, q) {
			if err != nil {
				yield(zero, fmt.Errorf("%s: list: %w", r.opts.entityName, err))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			if tracked, state, ok := r.scope.Lookup(r.entityType, row.IdentityKey()); ok {
				if state == scope.Deleted {
					continue
				}
				row = tracked.(E)
			}

			d, err := r.toDomain(row)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// ListAll lists every entity ordered by key.
func (r *Core[D, K, E]) ListAll(ctx context.Context) iter.Seq2[D, error] {
	return r.List(ctx, nil, r.opts.keyField)
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[D any](seq iter.Seq2[D, error]) ([]D, error) {
	var out []D
	for d, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}
