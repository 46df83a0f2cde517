package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrDuplicateIdentity signals an enrollment name collision. Enrollment
	// never overwrites an existing reference image.
	ErrDuplicateIdentity = errors.New("identity already enrolled")

	// ErrInvalidName signals a name that is empty after normalization.
	ErrInvalidName = errors.New("invalid identity name")
)

// imageExtensions is the allow-list for gallery entries. Anything else in
// the directory (dotfiles, placeholders) is skipped during enumeration.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Identity is one enrolled person: a normalized name backed by exactly one
// reference image.
type Identity struct {
	Name     string // normalized name, unique within the store
	Filename string // basename of the reference image
	Path     string // absolute or store-relative path to the reference image
}

// Store is a directory-backed gallery of enrolled identities. Reads need no
// coordination; enrollments are serialized so the duplicate-check-then-write
// sequence stays atomic.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore returns a gallery rooted at dir. The directory is created if
// missing.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create gallery directory: %w", err)
	}
	return &Store{dir: dir, logger: logger.Named("gallery")}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// List enumerates enrolled identities in stable (lexical) order, skipping
// entries that are not reference images.
func (s *Store) List() ([]Identity, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery directory: %w", err)
	}

	identities := make([]Identity, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExtensions[ext] {
			continue
		}
		identities = append(identities, Identity{
			Name:     strings.TrimSuffix(name, filepath.Ext(name)),
			Filename: name,
			Path:     filepath.Join(s.dir, name),
		})
	}
	return identities, nil
}

// Enroll persists a reference image under the normalized name. It fails with
// ErrDuplicateIdentity when an entry for that name already exists; the
// comparison is case-insensitive so case-colliding names cannot shadow each
// other on case-insensitive filesystems.
func (s *Store) Enroll(name string, image []byte) (*Identity, error) {
	clean, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.entryExists(clean)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, clean)
	}

	filename := clean + ".jpg"
	path := filepath.Join(s.dir, filename)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentity, clean)
		}
		return nil, fmt.Errorf("failed to persist reference image: %w", err)
	}
	if _, err := file.Write(image); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write reference image: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write reference image: %w", err)
	}

	s.logger.Info("identity enrolled", zap.String("name", clean), zap.String("path", path))
	return &Identity{Name: clean, Filename: filename, Path: path}, nil
}

// entryExists reports whether any reference image is stored under the given
// normalized name, regardless of extension or case.
func (s *Store) entryExists(clean string) (bool, error) {
	identities, err := s.List()
	if err != nil {
		return false, err
	}
	for _, id := range identities {
		if strings.EqualFold(id.Name, clean) {
			return true, nil
		}
	}
	return false, nil
}

// NormalizeName trims the name, collapses internal whitespace to
// underscores, and replaces path separators so names cannot traverse out of
// the store directory.
func NormalizeName(name string) (string, error) {
	fields := strings.Fields(name)
	clean := strings.Join(fields, "_")
	clean = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		}
		return r
	}, clean)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		return "", ErrInvalidName
	}
	return clean, nil
}
