// Package memstore is an in-memory store for the repository core. Rows are
// kept as msgpack snapshots so callers never share instances with the store,
// every Apply batch is atomic, and rows keep their insertion order.
package memstore

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/jinzhu/inflection"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/internal/reflectx"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
)

var _ scope.Writer = (*Store)(nil)

// Store holds one table per entity type.
type Store struct {
	mu     sync.RWMutex
	tables map[reflect.Type]*table
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

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[reflect.Type]*table),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type table struct {
	name   string
	rows   map[any][]byte
	order  []any
	nextID int64
}

func newTable(typ reflect.Type) *table {
	return &table{name: TableName(typ), rows: make(map[any][]byte)}
}

func (t *table) clone() *table {
	out := &table{
		name:   t.name,
		rows:   make(map[any][]byte, len(t.rows)),
		order:  slices.Clone(t.order),
		nextID: t.nextID,
	}
	for k, v := range t.rows {
		out.rows[k] = v
	}
	return out
}

func (t *table) snapshot() [][]byte {
	out := make([][]byte, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.rows[key])
	}
	return out
}

// observe keeps the auto increment counter ahead of explicit integer keys.
func (t *table) observe(key any) {
	v := reflect.ValueOf(key)
	switch {
	case v.CanInt() && v.Int() > t.nextID:
		t.nextID = v.Int()
	case v.CanUint() && int64(v.Uint()) > t.nextID:
		t.nextID = int64(v.Uint())
	}
}

// assignKey gives a transient entity the next integer key.
func (t *table) assignKey(e entity.Identifiable) error {
	field := keyField(reflect.TypeOf(e))
	fv, err := reflectx.FieldByName(e, field)
	if err != nil {
		return err
	}
	if !fv.CanInt() && !fv.CanUint() {
		return repoerr.InvalidArgument("memstore: %s insert requires a key", t.name)
	}
	t.nextID++
	return reflectx.SetField(e, field, t.nextID)
}

func (t *table) remove(key any) {
	delete(t.rows, key)
	if i := slices.Index(t.order, key); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

// TableName derives the table name of an entity type, e.g. *AuthorRecord
// becomes "author_records".
func TableName(typ reflect.Type) string {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return inflection.Plural(reflectx.ToSnake(typ.Name()))
}

func keyField(typ reflect.Type) string {
	if pk := reflectx.PlanOf(typ).PrimaryKeyFields(); len(pk) > 0 {
		return pk[0]
	}
	return "ID"
}

// Tables lists the names of the tables holding rows.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, t := range s.tables {
		if len(t.rows) > 0 {
			out = append(out, t.name)
		}
	}
	sort.Strings(out)
	return out
}

// Seed inserts entities directly, bypassing any scope.
func (s *Store) Seed(ctx context.Context, entities ...entity.Identifiable) error {
	changes := make([]scope.Change, 0, len(entities))
	for _, e := range entities {
		changes = append(changes, scope.Change{State: scope.Added, Entity: e})
	}
	return s.Apply(ctx, changes)
}

// Apply writes a batch atomically. Inserting an existing key fails with
// DuplicateKey; updating or deleting a missing key fails with NotFound.
// Transient entities with integer keys get the next key of their table.
func (s *Store) Apply(ctx context.Context, changes []scope.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[reflect.Type]*table)
	stage := func(typ reflect.Type) *table {
		if t, ok := staged[typ]; ok {
			return t
		}
		t, ok := s.tables[typ]
		if !ok {
			t = newTable(typ)
		}
		t = t.clone()
		staged[typ] = t
		return t
	}

	var assigned []entity.Identifiable
	rollback := func() {
		for _, e := range assigned {
			_ = reflectx.SetField(e, keyField(reflect.TypeOf(e)), nil)
		}
	}

	for _, change := range changes {
		e := change.Entity
		if err := reflectx.SyncJoinColumns(e); err != nil {
			rollback()
			return err
		}
		t := stage(reflect.TypeOf(e))

		if change.State == scope.Added && e.IsTransient() {
			if err := t.assignKey(e); err != nil {
				rollback()
				return err
			}
			assigned = append(assigned, e)
		}

		key := e.IdentityKey()
		_, exists := t.rows[key]

		switch change.State {
		case scope.Added:
			if exists {
				rollback()
				return repoerr.DuplicateKey(t.name, key)
			}
			data, err := encode(e)
			if err != nil {
				rollback()
				return err
			}
			t.rows[key] = data
			t.order = append(t.order, key)
			t.observe(key)
		case scope.Modified:
			if !exists {
				rollback()
				return repoerr.NotFound(t.name, key)
			}
			data, err := encode(e)
			if err != nil {
				rollback()
				return err
			}
			t.rows[key] = data
		case scope.Deleted:
			if !exists {
				rollback()
				return repoerr.NotFound(t.name, key)
			}
			t.remove(key)
		}
	}

	for typ, t := range staged {
		s.tables[typ] = t
	}
	s.logger.Debug("memstore batch applied", "changes", len(changes))
	return nil
}

func (s *Store) rows(typ reflect.Type) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[typ]
	if !ok {
		return nil
	}
	return t.snapshot()
}

// encode snapshots an entity without its relation slots.
func encode(e any) ([]byte, error) {
	rv, err := reflectx.StructValue(e)
	if err != nil {
		return nil, err
	}
	cp := reflect.New(rv.Type()).Elem()
	cp.Set(rv)
	for _, rel := range reflectx.PlanOf(rv.Type()).Relations {
		f := cp.FieldByIndex(rel.Index)
		f.Set(reflect.Zero(f.Type()))
	}
	data, err := msgpack.Marshal(cp.Addr().Interface())
	if err != nil {
		return nil, fmt.Errorf("memstore: encode %s: %w", rv.Type(), err)
	}
	return data, nil
}

// decode builds a new instance of the pointer type typ from a snapshot.
func decode(typ reflect.Type, data []byte) (reflect.Value, error) {
	v := reflect.New(typ.Elem())
	if err := msgpack.Unmarshal(data, v.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("memstore: decode %s: %w", typ.Elem(), err)
	}
	return v, nil
}

// For returns a source reading entities of type E, which must be a pointer
// to a struct.
func For[E entity.Identifiable](s *Store) scope.Source[E] {
	return &source[E]{store: s, typ: reflect.TypeFor[E]()}
}

type source[E entity.Identifiable] struct {
	store *Store
	typ   reflect.Type
}

// Find filters, orders and eager loads rows, then yields them one by one.
func (src *source[E]) Find(ctx context.Context, q query.Query) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		var zero E
		rows, err := src.load(ctx, q)
		if err != nil {
			yield(zero, err)
			return
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			if !yield(row.Interface().(E), nil) {
				return
			}
		}
	}
}

// Count returns the number of rows matching the filter.
func (src *source[E]) Count(ctx context.Context, q query.Query) (int, error) {
	rows, err := src.match(ctx, q.Where)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (src *source[E]) load(ctx context.Context, q query.Query) ([]reflect.Value, error) {
	plan := reflectx.PlanOf(src.typ)
	relations := make([]reflectx.Relation, 0, len(q.Include))
	for _, name := range q.Include {
		rel, ok := plan.Relation(name)
		if !ok {
			return nil, fmt.Errorf("memstore: %s has no relation %q", TableName(src.typ), name)
		}
		relations = append(relations, rel)
	}

	rows, err := src.match(ctx, q.Where)
	if err != nil {
		return nil, err
	}

	if q.OrderBy != "" {
		if err := orderRows(rows, q.OrderBy); err != nil {
			return nil, err
		}
	}

	for _, rel := range relations {
		for _, row := range rows {
			if err := src.store.loadRelation(row, rel); err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

func (src *source[E]) match(ctx context.Context, filter query.Filter) ([]reflect.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []reflect.Value
	for _, data := range src.store.rows(src.typ) {
		row, err := decode(src.typ, data)
		if err != nil {
			return nil, err
		}
		ok, err := filter.Match(row.Interface())
		if err != nil {
			return nil, fmt.Errorf("memstore: %w", err)
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func orderRows(rows []reflect.Value, field string) error {
	keys := make([]any, len(rows))
	for i, row := range rows {
		fv, err := reflectx.FieldByName(row.Interface(), field)
		if err != nil {
			return fmt.Errorf("memstore: order by: %w", err)
		}
		keys[i] = fv.Interface()
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	var cmpErr error
	sort.SliceStable(idx, func(a, b int) bool {
		c, err := query.Compare(keys[idx[a]], keys[idx[b]])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	if cmpErr != nil {
		return fmt.Errorf("memstore: order by %s: %w", field, cmpErr)
	}

	sorted := make([]reflect.Value, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
	return nil
}

// loadRelation fills one relation slot of owner from the related table,
// matching the relation's join columns.
func (s *Store) loadRelation(owner reflect.Value, rel reflectx.Relation) error {
	if len(rel.BaseFields) == 0 || len(rel.BaseFields) != len(rel.JoinFields) {
		return fmt.Errorf("memstore: relation %s has no join columns", rel.Name)
	}

	relatedType := rel.Type
	if rel.Cardinality == reflectx.Many {
		relatedType = relatedType.Elem()
	}

	ownerValues := make([]any, len(rel.BaseFields))
	for i, name := range rel.BaseFields {
		fv, err := reflectx.FieldByName(owner.Interface(), name)
		if err != nil {
			return err
		}
		ownerValues[i] = fv.Interface()
	}

	slot := owner.Elem().FieldByIndex(rel.Index)
	for _, data := range s.rows(relatedType) {
		related, err := decode(relatedType, data)
		if err != nil {
			return err
		}
		ok, err := joins(related.Interface(), rel.JoinFields, ownerValues)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if rel.Cardinality == reflectx.One {
			slot.Set(related)
			return nil
		}
		slot.Set(reflect.Append(slot, related))
	}
	return nil
}

func joins(related any, fields []string, values []any) (bool, error) {
	for i, name := range fields {
		fv, err := reflectx.FieldByName(related, name)
		if err != nil {
			return false, err
		}
		c, err := query.Compare(fv.Interface(), values[i])
		if err != nil || c != 0 {
			return false, err
		}
	}
	return true, nil
}
