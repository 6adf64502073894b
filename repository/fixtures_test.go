package repository

import (
	"context"
	"iter"
	"testing"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/scope"
	"github.com/goliatone/go-repository-core/store/memstore"
)

type ProfileRecord struct {
	entity.Model[int64]
	Bio string `bun:"bio"`
}

type BookRecord struct {
	entity.Model[int64]
	AuthorID int64  `bun:"author_id"`
	Title    string `bun:"title"`
}

type AuthorRecord struct {
	entity.Model[int64]
	Name      string         `bun:"name"`
	Email     string         `bun:"email"`
	ProfileID int64          `bun:"profile_id"`
	Profile   *ProfileRecord `bun:"rel:belongs-to,join:profile_id=id"`
	Books     []*BookRecord  `bun:"rel:has-many,join:id=author_id"`
}

type Author struct {
	ID      int64
	Name    string
	Email   string
	Profile *Profile
	Books   []Book
}

type Profile struct {
	ID  int64
	Bio string
}

type Book struct {
	ID    int64
	Title string
}

var authorMapper = MapperFuncs[Author, *AuthorRecord]{
	ToEntityFunc: func(a Author) (*AuthorRecord, error) {
		rec := &AuthorRecord{Name: a.Name, Email: a.Email}
		rec.ID = a.ID
		if a.Profile != nil {
			rec.Profile = &ProfileRecord{Bio: a.Profile.Bio}
			rec.Profile.ID = a.Profile.ID
			rec.ProfileID = a.Profile.ID
		}
		for _, b := range a.Books {
			book := &BookRecord{AuthorID: a.ID, Title: b.Title}
			book.ID = b.ID
			rec.Books = append(rec.Books, book)
		}
		return rec, nil
	},
	ToDomainFunc: func(rec *AuthorRecord) (Author, error) {
		a := Author{ID: rec.ID, Name: rec.Name, Email: rec.Email}
		if rec.Profile != nil {
			a.Profile = &Profile{ID: rec.Profile.ID, Bio: rec.Profile.Bio}
		}
		for _, b := range rec.Books {
			a.Books = append(a.Books, Book{ID: b.ID, Title: b.Title})
		}
		return a, nil
	},
}

func newAuthorRecord(id int64, name string) *AuthorRecord {
	rec := &AuthorRecord{Name: name, Email: name + "@example.com"}
	rec.ID = id
	return rec
}

type harness struct {
	store   *memstore.Store
	scope   *scope.Scope
	authors *Core[Author, int64, *AuthorRecord]
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := memstore.New()
	h := &harness{store: store}
	h.reset(opts...)
	return h
}

// reset starts a fresh scope over the same store.
func (h *harness) reset(opts ...Option) {
	h.scope = scope.New(h.store)
	opts = append([]Option{WithSingleInclude(Include("Profile", "Books"))}, opts...)
	h.authors = New[Author, int64, *AuthorRecord](
		h.scope,
		memstore.For[*AuthorRecord](h.store),
		authorMapper,
		entity.NewSequence(1),
		opts...,
	)
}

func (h *harness) complete(t *testing.T) {
	t.Helper()
	if err := h.scope.Complete(context.Background()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}

// seedLibrary stores author 1 with profile 10 and book 100, and author 2
// with nothing related.
func seedLibrary(t *testing.T, store *memstore.Store) {
	t.Helper()
	profile := &ProfileRecord{Bio: "original bio"}
	profile.ID = 10

	first := newAuthorRecord(1, "Ada")
	first.ProfileID = 10
	second := newAuthorRecord(2, "Grace")

	book := &BookRecord{AuthorID: 1, Title: "Notes"}
	book.ID = 100

	if err := store.Seed(context.Background(), profile, first, second, book); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

// stubSource returns fixed rows and records the queries it receives.
type stubSource struct {
	rows    []*AuthorRecord
	count   int
	err     error
	queries []query.Query
}

func (s *stubSource) Find(ctx context.Context, q query.Query) iter.Seq2[*AuthorRecord, error] {
	s.queries = append(s.queries, q)
	return func(yield func(*AuthorRecord, error) bool) {
		if s.err != nil {
			yield(nil, s.err)
			return
		}
		for _, row := range s.rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (s *stubSource) Count(ctx context.Context, q query.Query) (int, error) {
	s.queries = append(s.queries, q)
	return s.count, s.err
}

// cancelAfterFind cancels the context once the wrapped source has yielded
// all rows, simulating cancellation between I/O and mutation.
type cancelAfterFind struct {
	scope.Source[*AuthorRecord]
	cancel context.CancelFunc
}

func (c *cancelAfterFind) Find(ctx context.Context, q query.Query) iter.Seq2[*AuthorRecord, error] {
	return func(yield func(*AuthorRecord, error) bool) {
		for row, err := range c.Source.Find(ctx, q) {
			if !yield(row, err) {
				return
			}
		}
		c.cancel()
	}
}
