package repository

import (
	"log/slog"

	"github.com/goliatone/go-repository-core/query"
)

// IncludeHook widens a query before it reaches the store, usually to eager
// load related entities.
type IncludeHook func(q query.Query) query.Query

// Include returns a hook that eager loads the named relations.
func Include(relations ...string) IncludeHook {
	return func(q query.Query) query.Query {
		return q.WithInclude(relations...)
	}
}

func noInclude(q query.Query) query.Query { return q }

type options struct {
	keyField      string
	entityName    string
	singleInclude IncludeHook
	listInclude   IncludeHook
	logger        *slog.Logger
}

// Option configures a Core.
type Option func(*options)

// WithKeyField sets the Go field holding the key. Defaults to "ID".
func WithKeyField(name string) Option {
	return func(o *options) {
		if name != "" {
			o.keyField = name
		}
	}
}

// WithEntityName sets the name used in errors and log records.
func WithEntityName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.entityName = name
		}
	}
}

// WithSingleInclude sets the hook applied when resolving a single entity for
// Read, Update and Delete. Update relies on it to load the relations it
// reconciles.
func WithSingleInclude(hook IncludeHook) Option {
	return func(o *options) {
		if hook != nil {
			o.singleInclude = hook
		}
	}
}

// WithListInclude sets the hook applied to List queries.
func WithListInclude(hook IncludeHook) Option {
	return func(o *options) {
		if hook != nil {
			o.listInclude = hook
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
