// Package store provides the bbolt-based content store for dep11gen.
// It keeps three independent namespaces in a single embedded database file:
// package records, per-package hints and content-addressed metadata blobs.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the content store.
var (
	bucketPackages = []byte("packages")
	bucketHints    = []byte("hints")
	bucketMetadata = []byte("metadata")
)

var (
	// ErrClosed is returned when the store is used outside of an open/close scope.
	ErrClosed = errors.New("content store is closed")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// DefaultOpenTimeout bounds how long Open waits for another process to release
// the database file lock before failing.
const DefaultOpenTimeout = 2 * time.Second

// Store is the content store. A Store must be closed before another process
// opens the same path; bbolt holds an exclusive file lock while it is open.
type Store struct {
	path    string
	timeout time.Duration
	db      *bolt.DB
}

// Open opens or creates the database at the given path and creates all buckets.
func Open(dbPath string) (*Store, error) {
	return OpenWithTimeout(dbPath, DefaultOpenTimeout)
}

// OpenWithTimeout is Open with an explicit lock wait.
func OpenWithTimeout(dbPath string, timeout time.Duration) (*Store, error) {
	s := &Store{path: dbPath, timeout: timeout}
	if err := s.Reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reopen acquires the database again after Close. It is a no-op on an open store.
func (s *Store) Reopen() error {
	if s.db != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return fmt.Errorf("open database %s: %w", s.path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPackages, bucketHints, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close releases the database and its file lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// IsOpen reports whether the store currently holds the database.
func (s *Store) IsOpen() bool {
	return s.db != nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// Stats summarizes the store contents.
type Stats struct {
	Packages int
	Ignored  int
	Hints    int
	Metadata int
}

// Stats counts the records of every namespace.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{}
	err := s.view(func(tx *bolt.Tx) error {
		st.Hints = tx.Bucket(bucketHints).Stats().KeyN
		st.Metadata = tx.Bucket(bucketMetadata).Stats().KeyN
		return tx.Bucket(bucketPackages).ForEach(func(_, v []byte) error {
			rec, err := decodePackageRecord(v)
			if err != nil {
				return err
			}
			st.Packages++
			if rec.Ignored {
				st.Ignored++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
