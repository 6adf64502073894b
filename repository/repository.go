package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"reflect"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
)

// Repository is the caller-facing contract over domain model D keyed by K.
type Repository[D any, K comparable] interface {
	Create(ctx context.Context, d D) (K, error)
	Read(ctx context.Context, key K) (D, error)
	Update(ctx context.Context, key K, d D) (D, error)
	Delete(ctx context.Context, key K) error
	Exists(ctx context.Context, key K) (bool, error)
	List(ctx context.Context, filter query.Filter, orderBy string) iter.Seq2[D, error]
	ListAll(ctx context.Context) iter.Seq2[D, error]
	Count(ctx context.Context, filter query.Filter) (int, error)
}

// Interface assertion to ensure Core implements Repository
var _ Repository[any, int64] = (*Core[any, int64, *entity.Model[int64]])(nil)

// Core implements Repository on top of a scope, a store source and a mapper.
// A Core is bound to one scope and shares its single-writer constraint.
type Core[D any, K comparable, E entity.Entity[K]] struct {
	scope  *scope.Scope
	source scope.Source[E]
	mapper Mapper[D, E]
	keys   entity.KeyGenerator[K]

	entityType reflect.Type
	opts       options
}

// New creates a Core. A nil key generator leaves unset keys to the store.
func New[D any, K comparable, E entity.Entity[K]](
	s *scope.Scope,
	source scope.Source[E],
	mapper Mapper[D, E],
	keys entity.KeyGenerator[K],
	opts ...Option,
) *Core[D, K, E] {
	if keys == nil {
		keys = entity.NoopKeyGenerator[K]{}
	}
	entityType := reflect.TypeFor[E]()

	o := options{
		keyField:      "ID",
		entityName:    typeName(entityType),
		singleInclude: noInclude,
		listInclude:   noInclude,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Core[D, K, E]{
		scope:      s,
		source:     source,
		mapper:     mapper,
		keys:       keys,
		entityType: entityType,
		opts:       o,
	}
}

// Scope returns the scope the core operates in.
func (r *Core[D, K, E]) Scope() *scope.Scope {
	return r.scope
}

// Create maps d, assigns a generated key when the mapped entity has none and
// registers the entity for insertion. The returned key is final; the row is
// written when the scope completes.
func (r *Core[D, K, E]) Create(ctx context.Context, d D) (K, error) {
	var zero K
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if isNil(d) {
		return zero, repoerr.InvalidArgument("%s: create requires a value", r.opts.entityName)
	}

	e, err := r.toEntity(d)
	if err != nil {
		return zero, err
	}

	if entity.IsUnset(e.GetID()) {
		key, ok, err := r.keys.TryGenerate(ctx)
		if err != nil {
			return zero, fmt.Errorf("%s: generate key: %w", r.opts.entityName, err)
		}
		if ok {
			e.SetID(key)
		}
	}

	if err := r.scope.Add(e); err != nil {
		return zero, err
	}
	r.opts.logger.Debug("entity added", "entity", r.opts.entityName, "key", e.GetID())
	return e.GetID(), nil
}

// Read returns the single entity stored under key.
func (r *Core[D, K, E]) Read(ctx context.Context, key K) (D, error) {
	var zero D
	e, err := r.resolveOne(ctx, key)
	if err != nil {
		return zero, err
	}
	if err := r.attachGraph(e); err != nil {
		return zero, err
	}
	return r.toDomain(e)
}

// Update merges d into the entity stored under key and returns the result.
// The key argument wins over any key carried by d.
func (r *Core[D, K, E]) Update(ctx context.Context, key K, d D) (D, error) {
	var zero D
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if isNil(d) {
		return zero, repoerr.InvalidArgument("%s: update requires a value", r.opts.entityName)
	}

	payload, err := r.toEntity(d)
	if err != nil {
		return zero, err
	}

	tracked, err := r.reconcile(ctx, key, payload)
	if err != nil {
		return zero, err
	}
	return r.toDomain(tracked)
}

// Delete marks the single entity stored under key for removal.
func (r *Core[D, K, E]) Delete(ctx context.Context, key K) error {
	e, err := r.resolveOne(ctx, key)
	if err != nil {
		return err
	}
	if err := r.scope.Attach(e); err != nil {
		return err
	}
	if err := r.scope.Remove(e); err != nil {
		return err
	}
	r.opts.logger.Debug("entity removed", "entity", r.opts.entityName, "key", key)
	return nil
}

// Exists reports whether an entity is stored under key. Pending writes in
// the scope are taken into account; multiplicity is not checked.
func (r *Core[D, K, E]) Exists(ctx context.Context, key K) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, state, ok := r.scope.Lookup(r.entityType, key); ok {
		return state != scope.Deleted, nil
	}
	n, err := r.source.Count(ctx, r.keyQuery(key))
	if err != nil {
		return false, fmt.Errorf("%s: exists: %w", r.opts.entityName, err)
	}
	return n > 0, nil
}

// Count returns the number of stored entities matching filter.
func (r *Core[D, K, E]) Count(ctx context.Context, filter query.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.source.Count(ctx, query.Query{Where: filter})
	if err != nil {
		return 0, fmt.Errorf("%s: count: %w", r.opts.entityName, err)
	}
	return n, nil
}

func (r *Core[D, K, E]) keyQuery(key K) query.Query {
	return query.Query{Where: query.Where(query.Eq(r.opts.keyField, key))}
}

func (r *Core[D, K, E]) toEntity(d D) (E, error) {
	e, err := r.mapper.ToEntity(d)
	if err != nil {
		return e, fmt.Errorf("%s: map to entity: %w", r.opts.entityName, err)
	}
	if isNil(e) {
		return e, repoerr.InvalidArgument("%s: mapper returned a nil entity", r.opts.entityName)
	}
	return e, nil
}

func (r *Core[D, K, E]) toDomain(e E) (D, error) {
	d, err := r.mapper.ToDomain(e)
	if err != nil {
		var zero D
		return zero, fmt.Errorf("%s: map to domain: %w", r.opts.entityName, err)
	}
	return d, nil
}

// scopeError translates scope sentinels into repository error kinds.
func (r *Core[D, K, E]) scopeError(err error, key any) error {
	switch {
	case errors.Is(err, scope.ErrDeleted):
		return repoerr.NotFound(r.opts.entityName, key)
	default:
		return err
	}
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
