package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// ErrMissing is returned for keys whose last fetch reported a missing
// record, while that miss is still cached.
var ErrMissing = errors.New("cacheinfra: record cached as missing")

// Config holds the sturdyc client settings.
type Config struct {
	// Capacity is the maximum number of entries. Must be greater than 0.
	Capacity int
	// NumShards splits the cache for concurrent access. Must be greater than 0.
	NumShards int
	// TTL is how long an entry stays fresh. Must be greater than 0.
	TTL time.Duration
	// EvictionPercentage is the share of entries dropped when the cache is
	// full, between 1 and 100.
	EvictionPercentage int
	// EarlyRefresh refreshes hot entries before they expire. Nil disables it.
	EarlyRefresh *EarlyRefreshConfig
	// MissingRecordStorage caches misses so absent keys do not hit the
	// source on every call. What counts as a miss is decided by the
	// IsMissing classifier given to NewSturdycService.
	MissingRecordStorage bool
	// EvictionInterval overrides how often expired entries are swept.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig maps onto sturdyc.WithEarlyRefreshes.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
		MissingRecordStorage: true,
	}
}

// Options returns the sturdyc options beyond the constructor arguments.
func (c Config) Options() []sturdyc.Option {
	var opts []sturdyc.Option
	if er := c.EarlyRefresh; er != nil {
		opts = append(opts, sturdyc.WithEarlyRefreshes(
			er.MinAsyncRefreshTime, er.MaxAsyncRefreshTime, er.SyncRefreshTime, er.RetryBaseDelay,
		))
	}
	if c.MissingRecordStorage {
		opts = append(opts, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return opts
}

// Validate reports the first invalid setting as a *ConfigError.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	case c.NumShards <= 0:
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	case c.TTL <= 0:
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	case c.EvictionPercentage < 1 || c.EvictionPercentage > 100:
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if er := c.EarlyRefresh; er != nil {
		durations := []struct {
			name string
			d    time.Duration
		}{
			{"MinAsyncRefreshTime", er.MinAsyncRefreshTime},
			{"MaxAsyncRefreshTime", er.MaxAsyncRefreshTime},
			{"SyncRefreshTime", er.SyncRefreshTime},
			{"RetryBaseDelay", er.RetryBaseDelay},
		}
		for _, d := range durations {
			if d.d < 0 {
				return &ConfigError{Field: "EarlyRefresh." + d.name, Message: "must be non-negative"}
			}
		}
		if er.MinAsyncRefreshTime > er.MaxAsyncRefreshTime {
			return &ConfigError{Field: "EarlyRefresh.MaxAsyncRefreshTime", Message: "must not be lower than MinAsyncRefreshTime"}
		}
	}
	return nil
}

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Fetch loads a value from the source of truth.
type Fetch func(ctx context.Context) (any, error)

// SturdycService is a cache service backed by a sturdyc client.
type SturdycService struct {
	client    *sturdyc.Client[any]
	isMissing func(error) bool
}

// NewSturdycService validates cfg and builds the client. isMissing decides
// which fetch errors are cached as misses when MissingRecordStorage is on;
// nil caches no misses.
func NewSturdycService(cfg Config, isMissing func(error) bool) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.MissingRecordStorage {
		isMissing = nil
	}
	client := sturdyc.New[any](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage, cfg.Options()...)
	return &SturdycService{client: client, isMissing: isMissing}, nil
}

// GetOrFetch returns the cached value for key, calling fetch on a miss.
// Concurrent callers for the same key share one fetch. A fetch error the
// classifier reports as missing is returned as is and remembered; later
// calls get ErrMissing until the entry expires or is deleted.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetch Fetch) (any, error) {
	if fetch == nil {
		return nil, &ConfigError{Field: "fetch", Message: "cannot be nil"}
	}

	var missed error
	value, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil && s.isMissing != nil && s.isMissing(err) {
			missed = err
			return nil, sturdyc.ErrNotFound
		}
		return v, err
	})
	switch {
	case err == nil:
		return value, nil
	case missed != nil:
		return nil, missed
	case errors.Is(err, sturdyc.ErrMissingRecord), errors.Is(err, sturdyc.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrMissing, key)
	default:
		return nil, err
	}
}

// Delete drops one entry.
func (s *SturdycService) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix drops every entry whose key starts with prefix.
func (s *SturdycService) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Size returns the number of stored entries, misses included.
func (s *SturdycService) Size() int {
	return s.client.Size()
}
