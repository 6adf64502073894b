package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
	"github.com/goliatone/go-repository-core/store/memstore"
)

func TestCore_Scenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.authors.Create(ctx, Author{Name: "A"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected generated key 1, got %d", id)
	}

	got, err := h.authors.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.ID != 1 || got.Name != "A" {
		t.Errorf("unexpected author: %+v", got)
	}

	if _, err := h.authors.Create(ctx, Author{ID: 1, Name: "B"}); !repoerr.IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKey, got %v", err)
	}

	if err := h.authors.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := h.authors.Read(ctx, 1); !repoerr.IsNotFound(err) {
		t.Errorf("expected NotFound after Delete, got %v", err)
	}
}

func TestCore_ScenarioAcrossFlushes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.authors.Create(ctx, Author{Name: "A"})
	if err != nil || id != 1 {
		t.Fatalf("Create returned %d, %v", id, err)
	}
	h.complete(t)

	got, err := h.authors.Read(ctx, 1)
	if err != nil || got.Name != "A" {
		t.Fatalf("Read returned %+v, %v", got, err)
	}

	if _, err := h.authors.Create(ctx, Author{ID: 1, Name: "B"}); !repoerr.IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKey from tracked identity, got %v", err)
	}

	if err := h.authors.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	h.complete(t)

	h.reset()
	if _, err := h.authors.Read(ctx, 1); !repoerr.IsNotFound(err) {
		t.Errorf("expected NotFound after flushed Delete, got %v", err)
	}
}

func TestCore_CreateConflictDetectedAtFlush(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	// a fresh scope does not know key 1, the store rejects it on flush
	if _, err := h.authors.Create(ctx, Author{ID: 1, Name: "B"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.scope.Complete(ctx); !repoerr.IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKey from store, got %v", err)
	}
	if !h.scope.HasChanges() {
		t.Error("failed flush should keep pending changes")
	}
}

func TestCore_CreateKeyGeneration(t *testing.T) {
	ctx := context.Background()
	calls := 0
	gen := entity.KeyGeneratorFunc[int64](func(context.Context) (int64, bool, error) {
		calls++
		return 42, true, nil
	})

	s := scope.New(memstore.New())
	core := New[Author, int64, *AuthorRecord](s, &stubSource{}, authorMapper, gen)

	id, err := core.Create(ctx, Author{Name: "generated"})
	if err != nil || id != 42 {
		t.Fatalf("Create returned %d, %v", id, err)
	}
	if calls != 1 {
		t.Errorf("expected generator called once, got %d", calls)
	}

	id, err = core.Create(ctx, Author{ID: 7, Name: "explicit"})
	if err != nil || id != 7 {
		t.Fatalf("Create returned %d, %v", id, err)
	}
	if calls != 1 {
		t.Errorf("generator must not run for explicit keys, got %d calls", calls)
	}
}

func TestCore_CreateNoopGeneratorKeepsUnsetKey(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := scope.New(store)
	core := New[Author, int64, *AuthorRecord](s, memstore.For[*AuthorRecord](store), authorMapper, nil)

	id, err := core.Create(ctx, Author{Name: "store assigned"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != 0 {
		t.Errorf("expected unset key from no-op generator, got %d", id)
	}
	if err := s.Complete(ctx); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	n, err := core.Count(ctx, query.Where(query.Eq("Name", "store assigned")))
	if err != nil || n != 1 {
		t.Errorf("expected stored row, got %d, %v", n, err)
	}
}

func TestCore_CreateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("generator failure", func(t *testing.T) {
		boom := errors.New("sequence unavailable")
		gen := entity.KeyGeneratorFunc[int64](func(context.Context) (int64, bool, error) {
			return 0, false, boom
		})
		core := New[Author, int64, *AuthorRecord](scope.New(nil), &stubSource{}, authorMapper, gen)
		if _, err := core.Create(ctx, Author{Name: "x"}); !errors.Is(err, boom) {
			t.Errorf("expected generator error, got %v", err)
		}
	})

	t.Run("nil domain value", func(t *testing.T) {
		core := New[*AuthorRecord, int64, *AuthorRecord](scope.New(nil), &stubSource{}, IdentityMapper[*AuthorRecord]{}, nil)
		if _, err := core.Create(ctx, nil); !repoerr.IsInvalidArgument(err) {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("mapper returns nil", func(t *testing.T) {
		mapper := MapperFuncs[Author, *AuthorRecord]{
			ToEntityFunc: func(Author) (*AuthorRecord, error) { return nil, nil },
			ToDomainFunc: authorMapper.ToDomainFunc,
		}
		core := New[Author, int64, *AuthorRecord](scope.New(nil), &stubSource{}, mapper, nil)
		if _, err := core.Create(ctx, Author{}); !repoerr.IsInvalidArgument(err) {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("mapper error", func(t *testing.T) {
		boom := errors.New("bad mapping")
		mapper := MapperFuncs[Author, *AuthorRecord]{
			ToEntityFunc: func(Author) (*AuthorRecord, error) { return nil, boom },
			ToDomainFunc: authorMapper.ToDomainFunc,
		}
		core := New[Author, int64, *AuthorRecord](scope.New(nil), &stubSource{}, mapper, nil)
		if _, err := core.Create(ctx, Author{}); !errors.Is(err, boom) {
			t.Errorf("expected mapper error, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := scope.New(nil)
		core := New[Author, int64, *AuthorRecord](s, &stubSource{}, authorMapper, nil)
		if _, err := core.Create(cctx, Author{ID: 1}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if s.Len() != 0 {
			t.Error("cancelled Create must not track anything")
		}
	})
}

func TestCore_Read(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	got, err := h.authors.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Name != "Ada" || got.Email != "Ada@example.com" {
		t.Errorf("unexpected author: %+v", got)
	}
	if got.Profile == nil || got.Profile.ID != 10 || got.Profile.Bio != "original bio" {
		t.Errorf("expected profile to be included, got %+v", got.Profile)
	}
	if len(got.Books) != 1 || got.Books[0].Title != "Notes" {
		t.Errorf("expected one book, got %+v", got.Books)
	}

	if _, state, ok := scope.Find[*ProfileRecord](h.scope, int64(10)); !ok || state != scope.Unchanged {
		t.Error("expected related profile to be attached by Read")
	}

	if _, err := h.authors.Read(ctx, 99); !repoerr.IsNotFound(err) {
		t.Errorf("expected NotFound for absent key, got %v", err)
	}
}

func TestCore_ReadDuplicateRows(t *testing.T) {
	src := &stubSource{rows: []*AuthorRecord{newAuthorRecord(5, "one"), newAuthorRecord(5, "two")}}
	s := scope.New(nil)
	core := New[Author, int64, *AuthorRecord](s, src, authorMapper, nil,
		WithSingleInclude(Include("Profile")))

	if _, err := core.Read(context.Background(), 5); !repoerr.IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKey, got %v", err)
	}
	if err := core.Delete(context.Background(), 5); !repoerr.IsDuplicateKey(err) {
		t.Errorf("expected DuplicateKey from Delete, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("failed resolution must not attach anything")
	}

	if len(src.queries) == 0 {
		t.Fatal("expected source to be queried")
	}
	q := src.queries[0]
	if !q.Includes("Profile") {
		t.Errorf("expected single include hook to be applied, got %+v", q.Include)
	}
	if len(q.Where) != 1 || q.Where[0].Field != "ID" || q.Where[0].Value != int64(5) {
		t.Errorf("unexpected key filter: %v", q.Where)
	}
}

func TestCore_ReadStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	core := New[Author, int64, *AuthorRecord](scope.New(nil), &stubSource{err: boom}, authorMapper, nil)

	if _, err := core.Read(context.Background(), 1); !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
	if _, err := core.Exists(context.Background(), 1); !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error from Exists, got %v", err)
	}
}

func TestCore_ReadMatchesExists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	for _, key := range []int64{1, 2, 3, 99} {
		exists, err := h.authors.Exists(ctx, key)
		if err != nil {
			t.Fatalf("Exists(%d) failed: %v", key, err)
		}
		_, readErr := h.authors.Read(ctx, key)
		if exists != (readErr == nil) {
			t.Errorf("key %d: Exists=%v but Read error=%v", key, exists, readErr)
		}
		if !exists && !repoerr.IsNotFound(readErr) {
			t.Errorf("key %d: expected NotFound, got %v", key, readErr)
		}
	}
}

func TestCore_ExistsWithPendingChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	if _, err := h.authors.Create(ctx, Author{ID: 50, Name: "pending"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ok, _ := h.authors.Exists(ctx, 50); !ok {
		t.Error("expected pending insert to exist")
	}

	if err := h.authors.Delete(ctx, 2); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := h.authors.Exists(ctx, 2); ok {
		t.Error("expected pending delete to not exist")
	}
}

func TestCore_Delete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	if err := h.authors.Delete(ctx, 99); !repoerr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}

	if err := h.authors.Delete(ctx, 2); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := h.authors.Delete(ctx, 2); !repoerr.IsNotFound(err) {
		t.Errorf("expected NotFound deleting twice, got %v", err)
	}
	h.complete(t)

	n, err := h.authors.Count(ctx, nil)
	if err != nil || n != 1 {
		t.Errorf("expected 1 remaining author, got %d, %v", n, err)
	}
}

func TestCore_Resolve(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	res, err := h.authors.Resolve(ctx, 1, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Kind != Single || res.Entity.Name != "Ada" || res.Count != 1 {
		t.Errorf("unexpected resolution: %+v", res)
	}
	if h.scope.Len() != 0 {
		t.Error("Resolve must not change the scope")
	}

	res, err = h.authors.Resolve(ctx, 99, nil)
	if err != nil || res.Kind != Empty {
		t.Errorf("expected Empty, got %v, %v", res.Kind, err)
	}

	// a tracked instance stands in for the fetched row
	tracked, err := h.authors.Resolve(ctx, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.scope.Attach(tracked.Entity); err != nil {
		t.Fatal(err)
	}
	again, _ := h.authors.Resolve(ctx, 2, nil)
	if again.Entity != tracked.Entity {
		t.Error("expected tracked instance to be returned")
	}
}
