package scope

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
)

// State is the tracking state of an entity within a scope.
type State int

const (
	// Unchanged entities were loaded and have no pending write.
	Unchanged State = iota
	// Added entities are pending insertion.
	Added
	// Modified entities are pending update.
	Modified
	// Deleted entities are pending removal.
	Deleted
)

func (s State) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

var (
	// ErrNotTracked is returned when an operation needs a tracked entity.
	ErrNotTracked = errors.New("scope: entity is not tracked")
	// ErrDeleted is returned when modifying an entity pending removal.
	ErrDeleted = errors.New("scope: entity is marked for deletion")
)

// Change is a pending write handed to the Writer on Complete.
type Change struct {
	State  State
	Entity entity.Identifiable
}

// Source reads storage entities of one type.
type Source[E any] interface {
	Find(ctx context.Context, q query.Query) iter.Seq2[E, error]
	Count(ctx context.Context, q query.Query) (int, error)
}

// Writer applies a batch of changes atomically.
type Writer interface {
	Apply(ctx context.Context, changes []Change) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, changes []Change) error

// Apply calls f.
func (f WriterFunc) Apply(ctx context.Context, changes []Change) error {
	return f(ctx, changes)
}

// UnitOfWork is the flush boundary for pending writes.
type UnitOfWork interface {
	Complete(ctx context.Context) error
	Discard()
}

var _ UnitOfWork = (*Scope)(nil)

type identity struct {
	typ reflect.Type
	key any
}

type entry struct {
	entity entity.Identifiable
	state  State
	id     identity
	keyed  bool
}

// Scope tracks the entities recognised by one unit of work. It holds an
// identity map keyed by entity type and key, plus a pointer index so
// transient entities can be tracked before they have a key.
//
// A Scope is not safe for concurrent use; give each logical operation stream
// its own scope.
type Scope struct {
	writer  Writer
	auditor *Auditor
	logger  *slog.Logger

	byPtr map[entity.Identifiable]*entry
	byKey map[identity]*entry
	order []*entry
}

// Option configures a Scope.
type Option func(*Scope)

// WithAuditor stamps audit metadata on Complete.
func WithAuditor(a *Auditor) Option {
	return func(s *Scope) { s.auditor = a }
}

// WithLogger sets the scope logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scope) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scope flushing through writer.
func New(writer Writer, opts ...Option) *Scope {
	s := &Scope{
		writer: writer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scope) reset() {
	s.byPtr = make(map[entity.Identifiable]*entry)
	s.byKey = make(map[identity]*entry)
	s.order = nil
}

func identityOf(e entity.Identifiable) identity {
	return identity{typ: reflect.TypeOf(e), key: e.IdentityKey()}
}

func entityName(e entity.Identifiable) string {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func isNil(e entity.Identifiable) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

func (s *Scope) track(e entity.Identifiable, state State) *entry {
	en := &entry{entity: e, state: state}
	if !e.IsTransient() {
		en.id = identityOf(e)
		en.keyed = true
		s.byKey[en.id] = en
	}
	s.byPtr[e] = en
	s.order = append(s.order, en)
	return en
}

func (s *Scope) untrack(en *entry) {
	delete(s.byPtr, en.entity)
	if en.keyed {
		delete(s.byKey, en.id)
	}
	for i, other := range s.order {
		if other == en {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Attach tracks a loaded entity as Unchanged. Attaching an instance that is
// already tracked is a no-op; attaching a second instance with the same
// identity fails with DuplicateKey.
func (s *Scope) Attach(e entity.Identifiable) error {
	if isNil(e) {
		return repoerr.InvalidArgument("scope: cannot attach nil entity")
	}
	if _, ok := s.byPtr[e]; ok {
		return nil
	}
	if e.IsTransient() {
		return repoerr.InvalidArgument("scope: cannot attach %s without a key", entityName(e))
	}
	if _, ok := s.byKey[identityOf(e)]; ok {
		return repoerr.DuplicateKey(entityName(e), e.IdentityKey())
	}
	s.track(e, Unchanged)
	return nil
}

// Add tracks e as pending insertion. It fails with DuplicateKey when e, or
// another instance with the same identity, is already tracked.
func (s *Scope) Add(e entity.Identifiable) error {
	if isNil(e) {
		return repoerr.InvalidArgument("scope: cannot add nil entity")
	}
	if _, ok := s.byPtr[e]; ok {
		return repoerr.DuplicateKey(entityName(e), e.IdentityKey())
	}
	if !e.IsTransient() {
		if _, ok := s.byKey[identityOf(e)]; ok {
			return repoerr.DuplicateKey(entityName(e), e.IdentityKey())
		}
	}
	s.track(e, Added)
	return nil
}

// MarkModified flags a tracked entity as pending update. Added entities stay
// Added.
func (s *Scope) MarkModified(e entity.Identifiable) error {
	en, ok := s.byPtr[e]
	if !ok {
		return ErrNotTracked
	}
	switch en.state {
	case Deleted:
		return ErrDeleted
	case Unchanged:
		en.state = Modified
	}
	return nil
}

// Remove marks a tracked entity for deletion. Removing an Added entity
// simply stops tracking it.
func (s *Scope) Remove(e entity.Identifiable) error {
	en, ok := s.byPtr[e]
	if !ok {
		return ErrNotTracked
	}
	if en.state == Added {
		s.untrack(en)
		return nil
	}
	en.state = Deleted
	return nil
}

// IsTracked reports whether this exact instance is tracked.
func (s *Scope) IsTracked(e entity.Identifiable) bool {
	if isNil(e) {
		return false
	}
	_, ok := s.byPtr[e]
	return ok
}

// StateOf returns the tracking state of e.
func (s *Scope) StateOf(e entity.Identifiable) (State, bool) {
	en, ok := s.byPtr[e]
	if !ok {
		return 0, false
	}
	return en.state, true
}

// Lookup returns the tracked entity of type typ with key.
func (s *Scope) Lookup(typ reflect.Type, key any) (entity.Identifiable, State, bool) {
	en, ok := s.byKey[identity{typ: typ, key: key}]
	if !ok {
		return nil, 0, false
	}
	return en.entity, en.state, true
}

// Find is the typed form of Lookup.
func Find[E entity.Identifiable](s *Scope, key any) (E, State, bool) {
	var zero E
	found, state, ok := s.Lookup(reflect.TypeOf(zero), key)
	if !ok {
		return zero, 0, false
	}
	typed, ok := found.(E)
	if !ok {
		return zero, 0, false
	}
	return typed, state, true
}

// Len returns the number of tracked entities.
func (s *Scope) Len() int {
	return len(s.order)
}

// Changes returns the pending writes grouped as inserts, updates and
// deletes, each group in tracking order. Inserts go first so that owners
// updated in the same batch can pick up keys assigned to new related rows.
func (s *Scope) Changes() []Change {
	var out []Change
	for _, state := range []State{Added, Modified, Deleted} {
		for _, en := range s.order {
			if en.state == state {
				out = append(out, Change{State: en.state, Entity: en.entity})
			}
		}
	}
	return out
}

// HasChanges reports whether Complete has anything to flush.
func (s *Scope) HasChanges() bool {
	for _, en := range s.order {
		if en.state != Unchanged {
			return true
		}
	}
	return false
}

// Complete flushes pending writes through the writer. On success Added and
// Modified entities become Unchanged and Deleted ones are no longer tracked.
// On failure or cancellation the tracking state is left as it was.
func (s *Scope) Complete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	changes := s.Changes()
	if len(changes) == 0 {
		return nil
	}
	if s.writer == nil {
		return fmt.Errorf("scope: no writer configured")
	}

	var restore func()
	if s.auditor != nil {
		restore = s.auditor.Stamp(ctx, changes)
	}

	if err := s.writer.Apply(ctx, changes); err != nil {
		if restore != nil {
			restore()
		}
		s.logger.Debug("scope flush failed", "changes", len(changes), "error", err)
		return err
	}

	for _, change := range changes {
		en := s.byPtr[change.Entity]
		if en == nil {
			continue
		}
		if en.state == Deleted {
			s.untrack(en)
			continue
		}
		en.state = Unchanged
		if !en.keyed && !en.entity.IsTransient() {
			en.id = identityOf(en.entity)
			en.keyed = true
			s.byKey[en.id] = en
		}
	}
	s.logger.Debug("scope flushed", "changes", len(changes))
	return nil
}

// Discard drops every pending write and all tracking state.
func (s *Scope) Discard() {
	s.logger.Debug("scope discarded", "tracked", len(s.order))
	s.reset()
}
