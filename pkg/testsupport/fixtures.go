// Package testsupport loads fixtures and golden files for tests and seeds
// stores from YAML.
package testsupport

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-repository-core/entity"
	"github.com/goliatone/go-repository-core/store/memstore"
)

var update = flag.Bool("update", false, "rewrite golden files with the actual output")

// FixturePath returns the path of filename under testdata.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath returns the path of filename under testdata/golden.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}

// LoadFixture reads a file relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureYAML decodes the YAML fixture at path into dest. Unknown keys
// fail the test.
func LoadFixtureYAML(t testing.TB, path string, dest any) {
	t.Helper()

	dec := yaml.NewDecoder(bytes.NewReader(LoadFixture(t, path)))
	dec.KnownFields(true)
	if err := dec.Decode(dest); err != nil {
		t.Fatalf("failed to decode YAML fixture from %s: %v", path, err)
	}
}

// Seed decodes a YAML list of E from path and inserts it into store. Records
// without a key get the next key of their table. The seeded records are
// returned in file order.
func Seed[E entity.Identifiable](t testing.TB, store *memstore.Store, path string) []E {
	t.Helper()

	var records []E
	LoadFixtureYAML(t, path, &records)

	entities := make([]entity.Identifiable, len(records))
	for i, rec := range records {
		entities[i] = rec
	}
	if err := store.Seed(context.Background(), entities...); err != nil {
		t.Fatalf("failed to seed %s: %v", path, err)
	}
	return records
}

// CompareGolden checks actual against the golden file at path. With -update
// the file is rewritten instead.
func CompareGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	if *update {
		writeGolden(t, path, actual)
		return
	}
	expected, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read golden file %s (run with -update to create it): %v", path, err)
	}
	if !bytes.Equal(actual, expected) {
		t.Errorf("output mismatch for %s:\nexpected:\n%s\nactual:\n%s", path, expected, actual)
	}
}

// CompareGoldenYAML marshals v as YAML and compares it with the golden file.
func CompareGoldenYAML(t testing.TB, path string, v any) {
	t.Helper()

	data, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal YAML for %s: %v", path, err)
	}
	CompareGolden(t, path, data)
}

func writeGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file %s: %v", path, err)
	}
}
