// Package scope implements the unit of work that repositories operate in.
//
// # Overview
//
// A Scope is an explicit tracking session. It keeps an identity map of the
// storage entities recognised during the unit of work together with their
// state:
//
//   - Unchanged: loaded from the store, nothing pending
//   - Added: pending insertion
//   - Modified: pending update
//   - Deleted: pending removal
//
// Repositories never write to a store directly. They Attach, Add,
// MarkModified and Remove entities on the scope; Complete hands the pending
// changes to a Writer as one batch and Discard throws them away.
//
// # Identity
//
// Entities with a key are indexed by (type, key), so a second instance with
// the same identity cannot be registered: Add and Attach report
// DuplicateKey. Transient entities (unset key) are tracked by pointer until a
// flush assigns their key.
//
// # Auditing
//
// An Auditor stamps entity.Metadata during Complete. The actor is read from
// the context:
//
//	ctx = scope.WithActor(ctx, "alice")
//	err := s.Complete(ctx)
//
// # Concurrency
//
// A scope is single-writer. It performs no locking; callers that need
// concurrent operations use separate scopes and rely on the store for
// isolation between them.
package scope
