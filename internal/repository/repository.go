// Package repository persists elements, recipes and crafting paths. Three
// backends share one interface: single JSON files, paginated CSV files, and
// SQLite. Write access is exclusive across processes, guarded by a lock file
// in the data directory, so two crawlers can never extend the same data set
// at once.
package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"craftbot/internal/element"
)

// ErrWriteLocked means another process already holds write access.
var ErrWriteLocked = errors.New("write access held by another process")

// ErrNoWriteAccess means a mutating call was made on a read-only repository.
var ErrNoWriteAccess = errors.New("repository opened without write access")

// ErrAuxNotFound is returned by LoadAux for names never saved.
var ErrAuxNotFound = errors.New("aux entry not found")

// DataError reports corrupted on-disk data (duplicates, broken pagination).
// Load fails hard on it: corrupt data must not be silently extended.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string { return "data error: " + e.Msg }

func dataErrorf(format string, args ...interface{}) error {
	return &DataError{Msg: fmt.Sprintf(format, args...)}
}

// Repository is the persistence contract shared by all backends.
//
// LoadRecipes preserves insertion order; recipes are keyed by their unordered
// ingredient pair. AddElement and AddRecipe require write access.
type Repository interface {
	LoadElements() ([]element.Element, error)
	LoadRecipes() ([]element.Recipe, error)
	AddElement(el element.Element) error
	AddRecipe(r element.Recipe) error

	LoadPaths() (map[string]element.Path, error)
	SavePaths(paths map[string]element.Path) error

	// SaveAux and LoadAux store arbitrary named artifacts (stats, plots,
	// embedding caches) under the data directory. Names reserved for the
	// backend's own storage are rejected.
	SaveAux(name string, data []byte) error
	LoadAux(name string) ([]byte, error)

	HasWriteAccess() bool
	AcquireWriteAccess() error
	ReleaseWriteAccess() error

	Close() error
}

// Open opens the backend selected by name ("csv", "json" or "sqlite").
func Open(backend, dir string, writeAccess bool) (Repository, error) {
	switch backend {
	case "csv":
		return OpenCSV(dir, writeAccess)
	case "json":
		return OpenJSON(dir, writeAccess)
	case "sqlite":
		return OpenSQLite(dir, writeAccess)
	default:
		return nil, fmt.Errorf("unknown repository backend %q", backend)
	}
}

// base carries the data directory and the inter-process write lock shared by
// every backend.
type base struct {
	dir  string
	lock *flock.Flock
	held bool

	// aux names (relative, slash-separated) a backend keeps for itself
	reserved []string
}

func newBase(dir string, writeAccess bool, reserved []string) (*base, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	b := &base{
		dir:      dir,
		lock:     flock.New(filepath.Join(dir, ".lock")),
		reserved: reserved,
	}
	if writeAccess {
		if err := b.AcquireWriteAccess(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *base) HasWriteAccess() bool { return b.held }

func (b *base) AcquireWriteAccess() error {
	if b.held {
		return nil
	}
	ok, err := b.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if !ok {
		return ErrWriteLocked
	}
	b.held = true
	return nil
}

func (b *base) ReleaseWriteAccess() error {
	if !b.held {
		return nil
	}
	b.held = false
	return b.lock.Unlock()
}

// auxPath resolves an aux name inside the data dir, rejecting reserved
// locations and directory escapes.
func (b *base) auxPath(name string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(name))
	if clean == "." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid aux name %q", name)
	}
	for _, r := range b.reserved {
		if clean == r || strings.HasPrefix(clean, r+"/") {
			return "", fmt.Errorf("aux name %q is reserved for internal storage", name)
		}
	}
	return filepath.Join(b.dir, filepath.FromSlash(clean)), nil
}

func (b *base) saveAuxFile(name string, data []byte) error {
	path, err := b.auxPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create aux dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (b *base) loadAuxFile(name string) ([]byte, error) {
	path, err := b.auxPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAuxNotFound, name)
		}
		return nil, err
	}
	return data, nil
}

// findDuplicateRecipes reports every pair that occurs more than once, each
// listed once.
func findDuplicateRecipes(recipes []element.Recipe) []element.Pair {
	// not in map: unseen; false: seen once; true: already reported
	seen := make(map[element.Pair]bool, len(recipes))
	var dups []element.Pair
	for _, r := range recipes {
		reported, ok := seen[r.Ingredients]
		switch {
		case !ok:
			seen[r.Ingredients] = false
		case !reported:
			dups = append(dups, r.Ingredients)
			seen[r.Ingredients] = true
		}
	}
	return dups
}

// checkElements verifies element uniqueness by name.
func checkElements(elements []element.Element) error {
	seen := make(map[string]struct{}, len(elements))
	for _, el := range elements {
		if _, ok := seen[el.Text]; ok {
			return dataErrorf("duplicated element %q", el.Text)
		}
		seen[el.Text] = struct{}{}
	}
	return nil
}
