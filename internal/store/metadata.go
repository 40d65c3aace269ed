package store

import (
	"bytes"
	"fmt"

	"github.com/kilupskalvis/dep11gen/internal/models"
	bolt "go.etcd.io/bbolt"
)

// putIfAbsent stores value under key unless the key exists. Content addressing
// means an existing key already holds the same document.
func putIfAbsent(b *bolt.Bucket, key string, value []byte) (bool, error) {
	if b.Get([]byte(key)) != nil {
		return false, nil
	}
	if err := b.Put([]byte(key), value); err != nil {
		return false, fmt.Errorf("store metadata %s: %w", key, err)
	}
	return true, nil
}

// PutMetadataIfAbsent stores a metadata blob under its ContentID. A second
// write for an existing ContentID is a no-op. The result reports whether a
// write happened.
func (s *Store) PutMetadataIfAbsent(gid string, blob []byte) (bool, error) {
	var written bool
	err := s.update(func(tx *bolt.Tx) error {
		var err error
		written, err = putIfAbsent(tx.Bucket(bucketMetadata), gid, blob)
		return err
	})
	return written, err
}

// HasMetadata reports whether a blob exists for the ContentID.
func (s *Store) HasMetadata(gid string) (bool, error) {
	var exists bool
	err := s.view(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketMetadata).Get([]byte(gid)) != nil
		return nil
	})
	return exists, err
}

// GetMetadata returns the blob stored for a ContentID, or ErrNotFound.
func (s *Store) GetMetadata(gid string) ([]byte, error) {
	var blob []byte
	err := s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMetadata).Get([]byte(gid))
		if v == nil {
			return ErrNotFound
		}
		blob = bytes.Clone(v)
		return nil
	})
	return blob, err
}

// ListContentIDs returns every ContentID with a stored blob.
func (s *Store) ListContentIDs() ([]string, error) {
	var gids []string
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).ForEach(func(k, _ []byte) error {
			gids = append(gids, string(k))
			return nil
		})
	})
	return gids, err
}

// GetHints returns the hints text of a package, or "".
func (s *Store) GetHints(pkid models.PackageID) (string, error) {
	var hints string
	err := s.view(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketHints).Get([]byte(pkid.String())); v != nil {
			hints = string(v)
		}
		return nil
	})
	return hints, err
}

// SetHints replaces the hints text of a package. Empty text removes it.
func (s *Store) SetHints(pkid models.PackageID, hints string) error {
	return s.update(func(tx *bolt.Tx) error {
		return putHints(tx, pkid, hints)
	})
}

func putHints(tx *bolt.Tx, pkid models.PackageID, hints string) error {
	b := tx.Bucket(bucketHints)
	key := []byte(pkid.String())
	if hints == "" {
		return b.Delete(key)
	}
	if err := b.Put(key, []byte(hints)); err != nil {
		return fmt.Errorf("store hints %s: %w", pkid, err)
	}
	return nil
}

// RemoveOrphanedMetadata deletes every blob no package record references and
// returns the deleted ContentIDs. It must only run on a quiescent store, after
// all package removals of a cycle: a concurrent writer could otherwise lose a
// blob whose referencing record is still in flight.
func (s *Store) RemoveOrphanedMetadata() ([]string, error) {
	var deleted []string
	err := s.update(func(tx *bolt.Tx) error {
		referenced := make(map[string]bool)
		err := tx.Bucket(bucketPackages).ForEach(func(k, v []byte) error {
			rec, err := decodePackageRecord(v)
			if err != nil {
				return fmt.Errorf("package %s: %w", k, err)
			}
			for _, gid := range rec.ContentIDs {
				referenced[gid] = true
			}
			return nil
		})
		if err != nil {
			return err
		}

		mb := tx.Bucket(bucketMetadata)
		// bbolt forbids mutating a bucket while iterating it
		err = mb.ForEach(func(k, _ []byte) error {
			if !referenced[string(k)] {
				deleted = append(deleted, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, gid := range deleted {
			if err := mb.Delete([]byte(gid)); err != nil {
				return fmt.Errorf("delete metadata %s: %w", gid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
