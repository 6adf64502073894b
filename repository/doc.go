// Package repository provides the generic repository core: Create, Read,
// Update, Delete, Exists and List over any store that implements the
// scope.Source and scope.Writer collaborators, with a Mapper translating
// between the caller-facing domain model and the storage entity.
//
// # Type parameters
//
// A Core is parameterised by three types:
//
//   - D, the domain model handed to and returned from callers
//   - K, the comparable key type
//   - E, the storage entity, usually a pointer to a struct embedding
//     entity.Model[K]
//
// Example:
//
//	type AuthorRecord struct {
//		bun.BaseModel `bun:"table:authors"`
//		entity.Model[int64]
//		Name string `bun:"name"`
//	}
//
//	s := scope.New(store)
//	authors := repository.New[Author, int64, *AuthorRecord](
//		s,
//		memstore.For[*AuthorRecord](store),
//		authorMapper,
//		entity.NewSequence(0),
//	)
//
//	id, err := authors.Create(ctx, Author{Name: "A"})
//	if err != nil {
//		return err
//	}
//	if err := s.Complete(ctx); err != nil {
//		return err
//	}
//
// # Resolution
//
// Read, Delete and Update load entities through the single-entity resolver.
// It fetches every row carrying the key and merges the result with the
// scope: tracked instances replace fetched rows, pending deletions are
// dropped and pending insertions are included. The outcome is a Resolution
// that is either Empty, Single or Multiple; Empty surfaces as NotFound and
// Multiple as DuplicateKey.
//
// # Reconciliation
//
// Update maps the payload, forces its key and merges it into the tracked
// entity for that key. Scalar fields are copied onto the tracked instance,
// leaving its key, audit metadata and join columns alone. First-level
// relations present in the payload are merged the same way; a nil relation
// slot in the payload leaves the tracked relation untouched.
//
// # Listing
//
// List returns an iter.Seq2 that runs the query every time it is ranged
// over. Rows are yielded one at a time and the context is checked before
// each one:
//
//	for author, err := range authors.List(ctx, query.Where(query.Gt("ID", 10)), "Name") {
//		if err != nil {
//			return err
//		}
//		fmt.Println(author.Name)
//	}
//
// # Errors
//
// Errors come from the repoerr package and are checked with
// repoerr.IsNotFound, repoerr.IsDuplicateKey and repoerr.IsInvalidArgument.
// Store and mapper errors are wrapped and returned unchanged in kind.
package repository
