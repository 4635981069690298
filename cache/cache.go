// Package cache stores compiled script images in SQLite, keyed by source.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/lox/vm"
)

// ErrMiss indicates no image is cached for the source.
var ErrMiss = errors.New("cache miss")

// Store is a compiled image cache backed by a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	log  commonlog.Logger
	mu   sync.Mutex
}

// Open opens or creates the cache database at path. Parent directories are
// created as needed; ":memory:" opens a private in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		key TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path, log: commonlog.GetLogger("lox.cache")}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Key returns the cache key for source. The image format version is part of
// the key so a format change never serves stale images.
func Key(source string) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(vm.ImageVersion) + "\x00" + source))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached image for source, or ErrMiss.
func (s *Store) Get(source string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(source)
	var image []byte
	err := s.db.QueryRow("SELECT image FROM images WHERE key = ?", key).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Debugf("miss %s", key[:12])
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	s.log.Debugf("hit %s (%d bytes)", key[:12], len(image))
	return image, nil
}

// Put stores image as the compiled form of source, replacing any previous
// entry.
func (s *Store) Put(source string, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO images (key, image, created) VALUES (?, ?, ?)",
		Key(source), image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Len returns the number of cached images.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}

// Prune deletes images created before cutoff and returns how many were
// removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM images WHERE created < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Compiler compiles source into a script function.
type Compiler func(h *vm.Heap, source string) (*vm.Function, error)

// Load returns the script function for source, decoding a cached image into
// v's heap when one exists and compiling and caching otherwise. A cached
// image that no longer decodes is recompiled and replaced.
func (s *Store) Load(v *vm.VM, compile Compiler, source string) (*vm.Function, error) {
	data, err := s.Get(source)
	switch {
	case err == nil:
		fn, lerr := v.LoadImage(data)
		if lerr == nil {
			return fn, nil
		}
		s.log.Warningf("discarding unreadable cached image: %s", lerr)
	case !errors.Is(err, ErrMiss):
		return nil, err
	}

	fn, err := compile(v.Heap(), source)
	if err != nil {
		return nil, err
	}
	image, err := vm.EncodeImage(fn)
	if err != nil {
		return nil, err
	}
	if err := s.Put(source, image); err != nil {
		s.log.Warningf("%s", err)
	}
	return fn, nil
}
