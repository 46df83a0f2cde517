package gallery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jane Doe", "Jane_Doe"},
		{"  Jane   Doe  ", "Jane_Doe"},
		{"jane", "jane"},
		{"a/b\\c", "a_b_c"},
		{"../../etc/passwd", "_.._etc_passwd"},
	}
	for _, tc := range cases {
		got, err := NormalizeName(tc.in)
		if err != nil {
			t.Fatalf("NormalizeName(%q) returned error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeNameRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "..", "."} {
		if _, err := NormalizeName(in); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NormalizeName(%q): expected ErrInvalidName, got %v", in, err)
		}
	}
}

func TestEnrollPersistsNormalizedName(t *testing.T) {
	store := newTestStore(t)

	identity, err := store.Enroll("Jane Doe", []byte("image-bytes"))
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if identity.Name != "Jane_Doe" {
		t.Fatalf("expected normalized name Jane_Doe, got %s", identity.Name)
	}
	if identity.Filename != "Jane_Doe.jpg" {
		t.Fatalf("expected filename Jane_Doe.jpg, got %s", identity.Filename)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), "Jane_Doe.jpg"))
	if err != nil {
		t.Fatalf("reference image missing: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Fatal("reference image contents differ from the enrolled capture")
	}
}

func TestEnrollRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Enroll("Jane Doe", []byte("first")); err != nil {
		t.Fatalf("first enroll failed: %v", err)
	}
	// Same normalized name, different image content: still a duplicate.
	if _, err := store.Enroll("Jane Doe", []byte("second")); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}

	// Enrollment never overwrites.
	data, err := os.ReadFile(filepath.Join(store.Dir(), "Jane_Doe.jpg"))
	if err != nil {
		t.Fatalf("reference image missing: %v", err)
	}
	if string(data) != "first" {
		t.Fatal("duplicate enrollment overwrote the original reference image")
	}
}

func TestEnrollRejectsCaseCollidingDuplicate(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Enroll("Jane Doe", []byte("first")); err != nil {
		t.Fatalf("first enroll failed: %v", err)
	}
	if _, err := store.Enroll("jane doe", []byte("second")); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity for case-colliding name, got %v", err)
	}
}

func TestEnrollRejectsInvalidName(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Enroll("   ", []byte("image")); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestListSkipsNonImageEntries(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()

	files := map[string]string{
		"alice.jpg":  "a",
		"bob.PNG":    "b",
		"carol.jpeg": "c",
		".gitkeep":   "",
		"notes.txt":  "n",
		"backup.bmp": "x",
	}
	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			t.Fatalf("failed to seed %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	identities, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	want := []string{"alice.jpg", "bob.PNG", "carol.jpeg"}
	if len(identities) != len(want) {
		t.Fatalf("expected %d identities, got %d: %+v", len(want), len(identities), identities)
	}
	for i, filename := range want {
		if identities[i].Filename != filename {
			t.Errorf("position %d: expected %s, got %s", i, filename, identities[i].Filename)
		}
	}
}

func TestListOrderIsStable(t *testing.T) {
	store := newTestStore(t)
	dir := store.Dir()

	for _, name := range []string{"zoe.jpg", "alice.jpg", "mike.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to seed %s: %v", name, err)
		}
	}

	first, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	second, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 identities, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Filename != second[i].Filename {
			t.Fatal("enumeration order changed between calls")
		}
	}
}

func TestConcurrentEnrollSameNameYieldsOneWinner(t *testing.T) {
	store := newTestStore(t)

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := store.Enroll("Jane Doe", []byte("image"))
			results <- err
		}()
	}

	var successes, duplicates int
	for i := 0; i < workers; i++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrDuplicateIdentity):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful enrollment, got %d", successes)
	}
	if duplicates != workers-1 {
		t.Fatalf("expected %d duplicate rejections, got %d", workers-1, duplicates)
	}
}
