package instrument

import (
	"context"
	"iter"
	"time"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repository"
)

var _ repository.Repository[any, int64] = (*Repository[any, int64])(nil)

// Repository records one operation sample per call on the wrapped
// repository.
type Repository[D any, K comparable] struct {
	base    repository.Repository[D, K]
	metrics *Metrics
	entity  string
}

// Wrap instruments base under the entity label.
func Wrap[D any, K comparable](base repository.Repository[D, K], metrics *Metrics, entity string) *Repository[D, K] {
	return &Repository[D, K]{base: base, metrics: metrics, entity: entity}
}

// Create records a "create" sample around the wrapped Create.
func (r *Repository[D, K]) Create(ctx context.Context, d D) (K, error) {
	start := time.Now()
	key, err := r.base.Create(ctx, d)
	r.metrics.observe(r.entity, "create", start, err)
	return key, err
}

// Read records a "read" sample around the wrapped Read.
func (r *Repository[D, K]) Read(ctx context.Context, key K) (D, error) {
	start := time.Now()
	d, err := r.base.Read(ctx, key)
	r.metrics.observe(r.entity, "read", start, err)
	return d, err
}

// Update records an "update" sample around the wrapped Update.
func (r *Repository[D, K]) Update(ctx context.Context, key K, d D) (D, error) {
	start := time.Now()
	updated, err := r.base.Update(ctx, key, d)
	r.metrics.observe(r.entity, "update", start, err)
	return updated, err
}

// Delete records a "delete" sample around the wrapped Delete.
func (r *Repository[D, K]) Delete(ctx context.Context, key K) error {
	start := time.Now()
	err := r.base.Delete(ctx, key)
	r.metrics.observe(r.entity, "delete", start, err)
	return err
}

// Exists records an "exists" sample around the wrapped Exists.
func (r *Repository[D, K]) Exists(ctx context.Context, key K) (bool, error) {
	start := time.Now()
	ok, err := r.base.Exists(ctx, key)
	r.metrics.observe(r.entity, "exists", start, err)
	return ok, err
}

// Count records a "count" sample around the wrapped Count.
func (r *Repository[D, K]) Count(ctx context.Context, filter query.Filter) (int, error) {
	start := time.Now()
	n, err := r.base.Count(ctx, filter)
	r.metrics.observe(r.entity, "count", start, err)
	return n, err
}

// List records one sample per range, taken when the range ends. Its
// latency covers the time the caller spends in the loop body.
func (r *Repository[D, K]) List(ctx context.Context, filter query.Filter, orderBy string) iter.Seq2[D, error] {
	return r.list("list", r.base.List(ctx, filter, orderBy))
}

// ListAll is instrumented like List.
func (r *Repository[D, K]) ListAll(ctx context.Context) iter.Seq2[D, error] {
	return r.list("list_all", r.base.ListAll(ctx))
}

func (r *Repository[D, K]) list(operation string, seq iter.Seq2[D, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		start := time.Now()
		var failed error
		defer func() { r.metrics.observe(r.entity, operation, start, failed) }()

		for d, err := range seq {
			if err != nil {
				failed = err
			}
			if !yield(d, err) {
				return
			}
		}
	}
}
