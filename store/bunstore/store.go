// Package bunstore backs the repository core with a SQL database through
// uptrace/bun. It supports SQLite (mattn/go-sqlite3 and modernc.org/sqlite)
// and PostgreSQL (lib/pq and pgx).
//
// Queries are translated from query.Query: Go field names become columns
// through bun's table schema, includes become bun relations. Apply writes
// a scope batch inside a single transaction.
package bunstore

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/internal/bunquery"
	"github.com/goliatone/go-repository-core/internal/reflectx"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
)

var _ scope.Writer = (*Store)(nil)

// Store reads and writes entities through a bun.DB.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store over db.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *bun.DB {
	return s.db
}

// CreateTables creates a table for each model unless it already exists.
func (s *Store) CreateTables(ctx context.Context, models ...any) error {
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: create table for %T: %w", model, err)
		}
	}
	return nil
}

// Apply writes changes in one transaction. A unique violation surfaces as
// DuplicateKey and an update or delete that matches no row as NotFound. Keys
// assigned by the database are reset when the transaction fails.
func (s *Store) Apply(ctx context.Context, changes []scope.Change) error {
	var inserted []entity.Identifiable

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, change := range changes {
			e := change.Entity
			if err := reflectx.SyncJoinColumns(e); err != nil {
				return err
			}
			table := s.table(reflect.TypeOf(e))

			switch change.State {
			case scope.Added:
				if e.IsTransient() {
					inserted = append(inserted, e)
				}
				if _, err := tx.NewInsert().Model(e).Exec(ctx); err != nil {
					return translate(err, table.Name, e.IdentityKey())
				}
			case scope.Modified:
				res, err := tx.NewUpdate().Model(e).WherePK().Exec(ctx)
				if err != nil {
					return translate(err, table.Name, e.IdentityKey())
				}
				if n, err := res.RowsAffected(); err == nil && n == 0 {
					return repoerr.NotFound(table.Name, e.IdentityKey())
				}
			case scope.Deleted:
				res, err := tx.NewDelete().Model(e).WherePK().Exec(ctx)
				if err != nil {
					return translate(err, table.Name, e.IdentityKey())
				}
				if n, err := res.RowsAffected(); err == nil && n == 0 {
					return repoerr.NotFound(table.Name, e.IdentityKey())
				}
			}
		}
		return nil
	})
	if err != nil {
		for _, e := range inserted {
			if pk := reflectx.PlanOf(reflect.TypeOf(e)).PrimaryKeyFields(); len(pk) > 0 {
				_ = reflectx.SetField(e, pk[0], nil)
			}
		}
		s.logger.Debug("bunstore batch failed", "changes", len(changes), "error", err)
		return err
	}
	s.logger.Debug("bunstore batch applied", "changes", len(changes))
	return nil
}

func (s *Store) table(typ reflect.Type) *schema.Table {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return s.db.Table(typ)
}

// For returns a source reading entities of type E, a pointer to a bun model.
func For[E entity.Identifiable](s *Store) scope.Source[E] {
	return &source[E]{store: s, table: s.table(reflect.TypeFor[E]())}
}

type source[E entity.Identifiable] struct {
	store *Store
	table *schema.Table
}

// Find runs the query and yields the rows as they are scanned. The
// connection stays busy until the sequence ends. Queries with includes are
// scanned in full first: bun resolves relations through the query model.
func (src *source[E]) Find(ctx context.Context, q query.Query) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		var zero E

		mods, err := bunquery.Build(src.table, q, bunquery.All)
		if err != nil {
			yield(zero, err)
			return
		}
		if len(q.Include) > 0 {
			src.findAll(ctx, mods, yield)
			return
		}

		rows, err := bunquery.Apply(src.store.db.NewSelect().Model(zero), mods).Rows(ctx)
		if err != nil {
			yield(zero, fmt.Errorf("bunstore: select %s: %w", src.table.Name, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			row := reflect.New(src.table.Type).Interface().(E)
			if err := src.store.db.ScanRow(ctx, rows, row); err != nil {
				yield(zero, fmt.Errorf("bunstore: scan %s: %w", src.table.Name, err))
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("bunstore: select %s: %w", src.table.Name, err))
		}
	}
}

func (src *source[E]) findAll(ctx context.Context, mods []bunquery.Modifier, yield func(E, error) bool) {
	var zero E
	var rows []E
	if err := bunquery.Apply(src.store.db.NewSelect().Model(&rows), mods).Scan(ctx); err != nil {
		yield(zero, fmt.Errorf("bunstore: select %s: %w", src.table.Name, err))
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

// Count returns the number of rows matching the filter.
func (src *source[E]) Count(ctx context.Context, q query.Query) (int, error) {
	mods, err := bunquery.Build(src.table, q, bunquery.Filter)
	if err != nil {
		return 0, err
	}
	var model E
	n, err := bunquery.Apply(src.store.db.NewSelect().Model(model), mods).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("bunstore: count %s: %w", src.table.Name, err)
	}
	return n, nil
}
