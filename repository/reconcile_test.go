package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
	"github.com/goliatone/go-repository-core/store/memstore"
)

func TestUpdate_ScalarsAndRelations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	payload := Author{
		ID:      999, // overridden by the key argument
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Profile: &Profile{Bio: "updated bio"},
		Books: []Book{
			{ID: 100, Title: "Notes, revised"},
			{Title: "Sketch"},
		},
	}

	got, err := h.authors.Update(ctx, 1, payload)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.ID != 1 || got.Name != "Ada Lovelace" {
		t.Errorf("unexpected result: %+v", got)
	}
	if got.Profile == nil || got.Profile.ID != 10 || got.Profile.Bio != "updated bio" {
		t.Errorf("expected tracked profile 10 to be overwritten, got %+v", got.Profile)
	}
	if len(got.Books) != 2 {
		t.Fatalf("expected 2 books, got %+v", got.Books)
	}
	h.complete(t)

	h.reset()
	reread, err := h.authors.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if reread.ID != 1 || reread.Name != "Ada Lovelace" || reread.Email != "ada@example.com" {
		t.Errorf("unexpected author after update: %+v", reread)
	}
	if reread.Profile == nil || reread.Profile.ID != 10 || reread.Profile.Bio != "updated bio" {
		t.Errorf("unexpected profile after update: %+v", reread.Profile)
	}
	if len(reread.Books) != 2 {
		t.Fatalf("expected 2 books after update, got %+v", reread.Books)
	}
	if reread.Books[0].ID != 100 || reread.Books[0].Title != "Notes, revised" {
		t.Errorf("unexpected first book: %+v", reread.Books[0])
	}
	if reread.Books[1].ID == 0 || reread.Books[1].Title != "Sketch" {
		t.Errorf("unexpected new book: %+v", reread.Books[1])
	}

	n, err := New[Book, int64, *BookRecord](h.scope, memstore.For[*BookRecord](h.store), bookMapper, nil).Count(ctx, nil)
	if err != nil || n != 2 {
		t.Errorf("expected 2 stored books, got %d, %v", n, err)
	}
}

var bookMapper = MapperFuncs[Book, *BookRecord]{
	ToEntityFunc: func(b Book) (*BookRecord, error) {
		rec := &BookRecord{Title: b.Title}
		rec.ID = b.ID
		return rec, nil
	},
	ToDomainFunc: func(rec *BookRecord) (Book, error) {
		return Book{ID: rec.ID, Title: rec.Title}, nil
	},
}

func TestUpdate_NilRelationLeavesTrackedUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	if _, err := h.authors.Update(ctx, 1, Author{Name: "Renamed", Email: "r@example.com"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	h.complete(t)

	h.reset()
	got, err := h.authors.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("expected name to change, got %q", got.Name)
	}
	if got.Profile == nil || got.Profile.Bio != "original bio" {
		t.Errorf("expected profile untouched, got %+v", got.Profile)
	}
	if len(got.Books) != 1 || got.Books[0].Title != "Notes" {
		t.Errorf("expected books untouched, got %+v", got.Books)
	}
}

func TestUpdate_ConnectsRelationWhenTrackedSlotEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	// author 2 has no profile yet
	if _, err := h.authors.Update(ctx, 2, Author{
		Name:    "Grace",
		Email:   "grace@example.com",
		Profile: &Profile{Bio: "new profile"},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	h.complete(t)

	h.reset()
	got, err := h.authors.Read(ctx, 2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Profile == nil || got.Profile.ID == 0 || got.Profile.Bio != "new profile" {
		t.Errorf("expected connected profile with assigned key, got %+v", got.Profile)
	}
}

func TestUpdate_RepeatedRelatedKeyConnectsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	stray := &BookRecord{AuthorID: 2, Title: "Loose"}
	stray.ID = 200
	if err := h.store.Seed(ctx, stray); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := h.authors.Update(ctx, 1, Author{
		Name:  "Ada",
		Email: "ada@example.com",
		Books: []Book{
			{ID: 200, Title: "Moved"},
			{ID: 200, Title: "Moved, final"},
		},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(got.Books) != 2 {
		t.Fatalf("expected books 100 and 200 once each, got %+v", got.Books)
	}
	h.complete(t)

	h.reset()
	reread, err := h.authors.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(reread.Books) != 2 || reread.Books[1].ID != 200 || reread.Books[1].Title != "Moved, final" {
		t.Errorf("unexpected books after update: %+v", reread.Books)
	}
}

func TestUpdate_NotFoundLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	_, err := h.authors.Update(ctx, 99, Author{Name: "ghost", Profile: &Profile{Bio: "x"}})
	if !repoerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if h.scope.HasChanges() || h.scope.Len() != 0 {
		t.Error("failed Update must not touch the scope")
	}
	h.complete(t)

	n, _ := h.authors.Count(ctx, nil)
	if n != 2 {
		t.Errorf("expected 2 authors, got %d", n)
	}
}

func TestUpdate_TrackedPayloadIsMarkedModified(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedLibrary(t, store)
	s := scope.New(store)
	records := New[*AuthorRecord, int64, *AuthorRecord](s, memstore.For[*AuthorRecord](store), IdentityMapper[*AuthorRecord]{}, nil)

	rec, err := records.Read(ctx, 2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	rec.Name = "Grace Hopper"

	out, err := records.Update(ctx, 2, rec)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if out != rec {
		t.Error("expected the tracked instance to be returned")
	}
	if state, _ := s.StateOf(rec); state != scope.Modified {
		t.Errorf("expected Modified, got %v", state)
	}

	if _, err := records.Update(ctx, 1, rec); !repoerr.IsInvalidArgument(err) {
		t.Errorf("expected InvalidArgument re-keying a tracked entity, got %v", err)
	}

	if err := s.Complete(ctx); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	fresh := New[*AuthorRecord, int64, *AuthorRecord](scope.New(store), memstore.For[*AuthorRecord](store), IdentityMapper[*AuthorRecord]{}, nil)
	stored, err := fresh.Read(ctx, 2)
	if err != nil || stored.Name != "Grace Hopper" {
		t.Errorf("expected persisted name, got %+v, %v", stored, err)
	}
}

func TestUpdate_DeletedEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	if err := h.authors.Delete(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := h.authors.Update(ctx, 2, Author{Name: "x"}); !repoerr.IsNotFound(err) {
		t.Errorf("expected NotFound updating a pending delete, got %v", err)
	}
}

func TestUpdate_RelationPendingRemoval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedLibrary(t, h.store)

	books := New[Book, int64, *BookRecord](h.scope, memstore.For[*BookRecord](h.store), bookMapper, nil)
	if err := books.Delete(ctx, 100); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	before := h.scope.Len()

	_, err := h.authors.Update(ctx, 1, Author{Name: "x", Books: []Book{{ID: 100, Title: "again"}}})
	if !repoerr.IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if h.scope.Len() != before {
		t.Errorf("failed Update must not attach entities: %d tracked, was %d", h.scope.Len(), before)
	}
}

func TestUpdate_Cancellation(t *testing.T) {
	h := newHarness(t)
	seedLibrary(t, h.store)

	t.Run("before resolve", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := h.authors.Update(ctx, 1, Author{Name: "x"}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("after resolve", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := scope.New(h.store)
		src := &cancelAfterFind{Source: memstore.For[*AuthorRecord](h.store), cancel: cancel}
		core := New[Author, int64, *AuthorRecord](s, src, authorMapper, nil,
			WithSingleInclude(Include("Profile", "Books")))

		_, err := core.Update(ctx, 1, Author{Name: "x", Profile: &Profile{Bio: "y"}})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if s.Len() != 0 || s.HasChanges() {
			t.Error("cancelled Update must leave the scope unchanged")
		}
	})

	h.reset()
	got, err := h.authors.Read(context.Background(), 1)
	if err != nil || got.Name != "Ada" || got.Profile.Bio != "original bio" {
		t.Errorf("store changed after cancelled updates: %+v, %v", got, err)
	}
}
