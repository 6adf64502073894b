package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-repository-core/repoerr"
)

type mockCacheService struct {
	result any
	err    error
	keys   []string
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetch FetchFn[any]) (any, error) {
	m.keys = append(m.keys, key)
	if m.result != nil || m.err != nil {
		return m.result, m.err
	}
	return fetch(ctx)
}

func (m *mockCacheService) Delete(context.Context, string) error { return nil }

func (m *mockCacheService) DeleteByPrefix(context.Context, string) error { return nil }

func TestGetOrFetch_Typed(t *testing.T) {
	ctx := context.Background()

	t.Run("passes fetch through", func(t *testing.T) {
		mock := &mockCacheService{}
		got, err := GetOrFetch(ctx, mock, "k", func(context.Context) (int, error) { return 5, nil })
		if err != nil || got != 5 {
			t.Errorf("GetOrFetch() = %v, %v", got, err)
		}
		if len(mock.keys) != 1 || mock.keys[0] != "k" {
			t.Errorf("unexpected keys %v", mock.keys)
		}
	})

	t.Run("nil result gives zero value", func(t *testing.T) {
		mock := &mockCacheService{}
		got, err := GetOrFetch(ctx, mock, "k", func(context.Context) (error, error) { return nil, nil })
		if err != nil || got != nil {
			t.Errorf("GetOrFetch() = %v, %v", got, err)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		mock := &mockCacheService{result: "text"}
		if _, err := GetOrFetch(ctx, mock, "k", func(context.Context) (int, error) { return 0, nil }); err == nil {
			t.Error("expected error for mismatched cached type")
		}
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		mock := &mockCacheService{err: boom}
		if _, err := GetOrFetch(ctx, mock, "k", func(context.Context) (int, error) { return 1, nil }); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})
}

func TestConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.EarlyRefresh == nil || cfg.EarlyRefresh.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("early refresh not converted: %+v", cfg.EarlyRefresh)
	}

	cfg.TTL = 0
	var cfgErr *ConfigError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "TTL" {
		t.Errorf("expected TTL ConfigError, got %v", err)
	}
}

func TestNewCacheService_CachesNotFound(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Capacity: 10, NumShards: 1, TTL: time.Minute, EvictionPercentage: 10, MissingRecordStorage: true}
	svc, err := NewCacheService(cfg)
	if err != nil {
		t.Fatalf("NewCacheService failed: %v", err)
	}

	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "", repoerr.NotFound("Author", 9)
	}
	if _, err := GetOrFetch(ctx, svc, "author::read::9", fetch); !repoerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := GetOrFetch(ctx, svc, "author::read::9", fetch); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected cached miss, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one fetch, got %d", calls)
	}

	if err := svc.DeleteByPrefix(ctx, "author::"); err != nil {
		t.Fatal(err)
	}
	GetOrFetch(ctx, svc, "author::read::9", fetch)
	if calls != 2 {
		t.Errorf("expected refetch after invalidation, got %d fetches", calls)
	}
}
