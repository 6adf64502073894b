// Package di assembles repositories from a config.Config: it opens the
// configured store, builds the logger, the cache service and the metrics,
// and hands out scopes and decorated repositories.
package di

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/config"
	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/instrument"
	"github.com/goliatone/go-repository-core/repository"
	"github.com/goliatone/go-repository-core/repositorycache"
	"github.com/goliatone/go-repository-core/scope"
	"github.com/goliatone/go-repository-core/store/bunstore"
	"github.com/goliatone/go-repository-core/store/memstore"
)

// Container holds the shared components built from one configuration.
type Container struct {
	config config.Config
	logger *slog.Logger

	mem *memstore.Store
	sql *bunstore.Store

	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	invalidator   *repositorycache.Invalidator
	cacheTags     *repositorycache.TagIndex
	metrics       *instrument.Metrics
	auditor       *scope.Auditor
}

// Option customises a Container.
type Option func(*containerOptions)

type containerOptions struct {
	registerer prometheus.Registerer
	logOutput  io.Writer
	db         *bun.DB
}

// WithRegisterer registers the metrics with reg instead of the default
// Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *containerOptions) { o.registerer = reg }
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *containerOptions) { o.logOutput = w }
}

// WithDB uses db for SQL drivers instead of opening the configured DSN.
func WithDB(db *bun.DB) Option {
	return func(o *containerOptions) { o.db = db }
}

// NewContainer validates cfg and builds every shared component.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := containerOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		config:        cfg,
		logger:        config.NewLogger(cfg.Log, o.logOutput),
		keySerializer: cache.NewDefaultKeySerializer(),
		auditor:       scope.NewAuditor(nil),
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		c.mem = memstore.New(memstore.WithLogger(c.logger))
	default:
		db := o.db
		if db == nil {
			var err error
			if db, err = bunstore.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.MaxOpenConns); err != nil {
				return nil, err
			}
		}
		c.sql = bunstore.New(db, bunstore.WithLogger(c.logger))
	}

	if cfg.Cache.Enabled {
		svc, err := cache.NewCacheService(cfg.Cache.Config)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.cacheService = svc
		c.invalidator = repositorycache.NewInvalidator(svc, c.keySerializer, c.logger)
		c.cacheTags = repositorycache.NewTagIndex()
	}

	if cfg.Metrics.Enabled {
		m, err := instrument.NewMetrics(o.registerer)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.metrics = m
	}

	c.logger.Debug("container ready",
		"driver", cfg.Store.Driver,
		"cache", cfg.Cache.Enabled,
		"metrics", cfg.Metrics.Enabled,
	)
	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config { return c.config }

// Logger returns the shared logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

// CacheService returns the cache service, nil when caching is disabled.
func (c *Container) CacheService() cache.CacheService { return c.cacheService }

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer { return c.keySerializer }

// Metrics returns the collectors, nil when metrics are disabled.
func (c *Container) Metrics() *instrument.Metrics { return c.metrics }

// MemStore returns the in-memory store, nil for SQL drivers.
func (c *Container) MemStore() *memstore.Store { return c.mem }

// SQLStore returns the bun store, nil for the memory driver.
func (c *Container) SQLStore() *bunstore.Store { return c.sql }

// Writer returns the store writer. Successful flushes invalidate cached
// entries of the written entities when caching is enabled; flushes are
// instrumented when metrics are enabled.
func (c *Container) Writer() scope.Writer {
	var w scope.Writer
	if c.mem != nil {
		w = c.mem
	} else {
		w = c.sql
	}
	if c.invalidator != nil {
		w = c.invalidator.Writer(w)
	}
	if c.metrics != nil {
		w = c.metrics.Writer(w)
	}
	return w
}

// NewScope opens a unit of work flushing to the configured store. Audit
// metadata is stamped from the actor carried by the Complete context.
func (c *Container) NewScope() *scope.Scope {
	return scope.New(c.Writer(), scope.WithAuditor(c.auditor), scope.WithLogger(c.logger))
}

// CreateTables creates the tables of models when the SQL store is in use
// and the configuration asks for it.
func (c *Container) CreateTables(ctx context.Context, models ...any) error {
	if c.sql == nil || !c.config.Store.CreateTables {
		return nil
	}
	return c.sql.CreateTables(ctx, models...)
}

// Close releases the database connection, if any.
func (c *Container) Close() error {
	if c.sql == nil {
		return nil
	}
	if err := c.sql.DB().Close(); err != nil {
		return fmt.Errorf("di: close database: %w", err)
	}
	return nil
}

// Source returns the store source for entity type E.
func Source[E entity.Identifiable](c *Container) scope.Source[E] {
	if c.mem != nil {
		return memstore.For[E](c.mem)
	}
	return bunstore.For[E](c.sql)
}

// NewRepository builds a repository core bound to sc and decorates it with
// metrics and caching as configured. name labels metrics and prefixes cache
// keys; repositories built with the same name share cached entries, and a
// write through any of them invalidates those entries for all.
func NewRepository[D any, K comparable, E entity.Entity[K]](
	c *Container,
	sc *scope.Scope,
	name string,
	mapper repository.Mapper[D, E],
	keys entity.KeyGenerator[K],
	opts ...repository.Option,
) repository.Repository[D, K] {
	opts = append([]repository.Option{repository.WithLogger(c.logger)}, opts...)
	var repo repository.Repository[D, K] = repository.New[D, K, E](sc, Source[E](c), mapper, keys, opts...)

	if c.metrics != nil {
		repo = instrument.Wrap(repo, c.metrics, name)
	}
	if c.cacheService != nil {
		c.invalidator.Register(reflect.TypeFor[E](), name)
		repo = repositorycache.New(repo, c.cacheService, c.keySerializer,
			repositorycache.WithPrefix(name),
			repositorycache.WithLogger(c.logger),
			repositorycache.WithTagIndex(c.cacheTags),
		)
	}
	return repo
}
