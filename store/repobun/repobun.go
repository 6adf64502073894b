// Package repobun exposes go-repository-bun repositories as collaborators of
// the repository core. Each registered repository becomes a scope.Source,
// and the Writer routes a scope batch to the matching repository inside one
// bun transaction.
package repobun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/internal/bunquery"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
	"github.com/goliatone/go-repository-core/store/bunstore"
)

// Backend is the part of a go-repository-bun repository the adapter uses.
type Backend[E any] interface {
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]E, int, error)
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	CreateTx(ctx context.Context, tx bun.IDB, record E, criteria ...repository.InsertCriteria) (E, error)
	UpdateTx(ctx context.Context, tx bun.IDB, record E, criteria ...repository.UpdateCriteria) (E, error)
	DeleteTx(ctx context.Context, tx bun.IDB, record E) error
}

// Interface assertion to ensure go-repository-bun repositories satisfy Backend
var _ Backend[any] = (repository.Repository[any])(nil)

var _ scope.Writer = (*Writer)(nil)

type handler interface {
	apply(ctx context.Context, tx bun.IDB, change scope.Change) error
}

// Writer applies scope batches through registered repositories.
type Writer struct {
	db       *bun.DB
	handlers map[reflect.Type]handler
}

// NewWriter creates a writer that runs batches in transactions on db.
func NewWriter(db *bun.DB) *Writer {
	return &Writer{db: db, handlers: make(map[reflect.Type]handler)}
}

// Register binds backend to entity type E and returns the source reading
// through it.
func Register[E entity.Identifiable](w *Writer, backend Backend[E]) scope.Source[E] {
	typ := reflect.TypeFor[E]()
	a := &adapter[E]{
		backend: backend,
		table:   w.db.Table(typ.Elem()),
	}
	w.handlers[typ] = a
	return a
}

// Apply routes every change to the repository registered for its type.
func (w *Writer) Apply(ctx context.Context, changes []scope.Change) error {
	for _, change := range changes {
		if _, ok := w.handlers[reflect.TypeOf(change.Entity)]; !ok {
			return repoerr.InvalidArgument("repobun: no repository registered for %T", change.Entity)
		}
	}
	return w.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, change := range changes {
			if err := w.handlers[reflect.TypeOf(change.Entity)].apply(ctx, tx, change); err != nil {
				return err
			}
		}
		return nil
	})
}

type adapter[E entity.Identifiable] struct {
	backend Backend[E]
	table   *schema.Table
}

// Find lists through the repository; the full result is fetched before the
// first row is yielded.
func (a *adapter[E]) Find(ctx context.Context, q query.Query) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		var zero E
		criteria, err := a.criteria(q, bunquery.All)
		if err != nil {
			yield(zero, err)
			return
		}
		rows, _, err := a.backend.List(ctx, criteria...)
		if err != nil {
			yield(zero, fmt.Errorf("repobun: list %s: %w", a.table.Name, err))
			return
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Count counts through the repository.
func (a *adapter[E]) Count(ctx context.Context, q query.Query) (int, error) {
	criteria, err := a.criteria(q, bunquery.Filter)
	if err != nil {
		return 0, err
	}
	n, err := a.backend.Count(ctx, criteria...)
	if err != nil {
		return 0, fmt.Errorf("repobun: count %s: %w", a.table.Name, err)
	}
	return n, nil
}

func (a *adapter[E]) criteria(q query.Query, parts bunquery.Part) ([]repository.SelectCriteria, error) {
	mods, err := bunquery.Build(a.table, q, parts)
	if err != nil {
		return nil, err
	}
	out := make([]repository.SelectCriteria, 0, len(mods))
	for _, mod := range mods {
		out = append(out, repository.SelectCriteria(mod))
	}
	return out, nil
}

func (a *adapter[E]) apply(ctx context.Context, tx bun.IDB, change scope.Change) error {
	record, ok := change.Entity.(E)
	if !ok {
		return repoerr.InvalidArgument("repobun: unexpected entity %T", change.Entity)
	}
	key := record.IdentityKey()

	var err error
	switch change.State {
	case scope.Added:
		var created E
		created, err = a.backend.CreateTx(ctx, tx, record)
		if err == nil && record.IsTransient() && !isNil(created) && !created.IsTransient() {
			copyKey(record, created)
		}
	case scope.Modified:
		_, err = a.backend.UpdateTx(ctx, tx, record)
	case scope.Deleted:
		err = a.backend.DeleteTx(ctx, tx, record)
	}
	return a.translate(err, key)
}

func (a *adapter[E]) translate(err error, key any) error {
	switch {
	case err == nil:
		return nil
	case bunstore.IsUniqueViolation(err):
		return repoerr.WrapDuplicateKey(err, a.table.Name)
	case errors.Is(err, sql.ErrNoRows):
		return repoerr.WrapNotFound(err, a.table.Name, key)
	default:
		return fmt.Errorf("repobun: %s %v: %w", a.table.Name, key, err)
	}
}

// copyKey moves a database assigned key from the returned record onto the
// tracked one when the repository hands back a different instance.
func copyKey[E entity.Identifiable](dst, src E) {
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Kind() != reflect.Ptr || sv.Kind() != reflect.Ptr || dv.Pointer() == sv.Pointer() {
		return
	}
	f, ok := sv.Elem().Type().FieldByName("ID")
	if !ok {
		return
	}
	dv.Elem().FieldByIndex(f.Index).Set(sv.Elem().FieldByIndex(f.Index))
}

func isNil(e entity.Identifiable) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
