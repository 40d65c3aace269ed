package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kilupskalvis/dep11gen/internal/models"
	bolt "go.etcd.io/bbolt"
)

// packageRecord is the value stored under a PackageID. A package is either
// ignored or lists the ContentIDs it contributes (possibly none).
type packageRecord struct {
	Ignored    bool     `json:"ignored,omitempty"`
	ContentIDs []string `json:"cids,omitempty"`
}

func decodePackageRecord(data []byte) (*packageRecord, error) {
	var rec packageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal package record: %w", err)
	}
	return &rec, nil
}

func getPackageRecord(tx *bolt.Tx, pkid models.PackageID) (*packageRecord, error) {
	data := tx.Bucket(bucketPackages).Get([]byte(pkid.String()))
	if data == nil {
		return nil, nil
	}
	return decodePackageRecord(data)
}

func putPackageRecord(tx *bolt.Tx, pkid models.PackageID, rec *packageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal package record: %w", err)
	}
	if err := tx.Bucket(bucketPackages).Put([]byte(pkid.String()), data); err != nil {
		return fmt.Errorf("store package record %s: %w", pkid, err)
	}
	return nil
}

// HasPackage reports whether the package was processed already, ignored or not.
func (s *Store) HasPackage(pkid models.PackageID) (bool, error) {
	var exists bool
	err := s.view(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketPackages).Get([]byte(pkid.String())) != nil
		return nil
	})
	return exists, err
}

// IsIgnored reports whether the package is marked as contributing nothing.
func (s *Store) IsIgnored(pkid models.PackageID) (bool, error) {
	var ignored bool
	err := s.view(func(tx *bolt.Tx) error {
		rec, err := getPackageRecord(tx, pkid)
		if err != nil {
			return err
		}
		ignored = rec != nil && rec.Ignored
		return nil
	})
	return ignored, err
}

// SetIgnored marks the package as permanently contributing nothing.
func (s *Store) SetIgnored(pkid models.PackageID) error {
	return s.update(func(tx *bolt.Tx) error {
		return putPackageRecord(tx, pkid, &packageRecord{Ignored: true})
	})
}

// SetPackageComponents stores the extraction result of a package: metadata
// blobs of publishable components (write-once), the package record and the
// concatenated hints. An empty component list marks the package ignored.
// Everything is written in one transaction so a record never references a
// blob that failed to store.
func (s *Store) SetPackageComponents(pkid models.PackageID, cpts []*models.Component) error {
	if len(cpts) == 0 {
		return s.SetIgnored(pkid)
	}

	type blob struct {
		gid string
		doc string
	}
	var blobs []blob
	var hints strings.Builder
	rec := &packageRecord{}
	seen := make(map[string]bool)

	// Render outside the transaction.
	for _, cpt := range cpts {
		if cpt.Publishable() && !seen[cpt.GlobalID] {
			seen[cpt.GlobalID] = true
			doc, err := cpt.ToYAMLDoc()
			if err != nil {
				return fmt.Errorf("render metadata for %s: %w", cpt.ID, err)
			}
			blobs = append(blobs, blob{gid: cpt.GlobalID, doc: doc})
			rec.ContentIDs = append(rec.ContentIDs, cpt.GlobalID)
		}
		h, err := cpt.HintsYAMLDoc(pkid)
		if err != nil {
			return fmt.Errorf("render hints for %s: %w", pkid, err)
		}
		hints.WriteString(h)
	}

	return s.update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketMetadata)
		for _, b := range blobs {
			if _, err := putIfAbsent(mb, b.gid, []byte(b.doc)); err != nil {
				return err
			}
		}
		if err := putHints(tx, pkid, hints.String()); err != nil {
			return err
		}
		return putPackageRecord(tx, pkid, rec)
	})
}

// GetContentIDs returns the ContentIDs a package references. Ignored and
// unknown packages reference nothing.
func (s *Store) GetContentIDs(pkid models.PackageID) ([]string, error) {
	var gids []string
	err := s.view(func(tx *bolt.Tx) error {
		rec, err := getPackageRecord(tx, pkid)
		if err != nil || rec == nil || rec.Ignored {
			return err
		}
		gids = rec.ContentIDs
		return nil
	})
	return gids, err
}

// GetMetadataForPackage concatenates the metadata documents of all components
// of a package in record order. Ignored and unknown packages yield "".
func (s *Store) GetMetadataForPackage(pkid models.PackageID) (string, error) {
	var data strings.Builder
	err := s.view(func(tx *bolt.Tx) error {
		rec, err := getPackageRecord(tx, pkid)
		if err != nil || rec == nil || rec.Ignored {
			return err
		}
		mb := tx.Bucket(bucketMetadata)
		for _, gid := range rec.ContentIDs {
			if v := mb.Get([]byte(gid)); v != nil {
				data.Write(v)
			}
		}
		return nil
	})
	return data.String(), err
}

// RemovePackage deletes the package record and hints. Metadata blobs are
// left alone since other packages may share them.
func (s *Store) RemovePackage(pkid models.PackageID) error {
	return s.update(func(tx *bolt.Tx) error {
		key := []byte(pkid.String())
		if err := tx.Bucket(bucketPackages).Delete(key); err != nil {
			return fmt.Errorf("delete package %s: %w", pkid, err)
		}
		if err := tx.Bucket(bucketHints).Delete(key); err != nil {
			return fmt.Errorf("delete hints %s: %w", pkid, err)
		}
		return nil
	})
}

// PackagesNotIn returns every package known to the store, by record or by
// hints, that is not part of the live set.
func (s *Store) PackagesNotIn(live map[models.PackageID]bool) ([]models.PackageID, error) {
	seen := make(map[string]bool)
	var stale []models.PackageID

	err := s.view(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPackages, bucketHints} {
			err := tx.Bucket(name).ForEach(func(k, _ []byte) error {
				key := string(k)
				if seen[key] {
					return nil
				}
				seen[key] = true
				pkid, err := models.ParsePackageID(key)
				if err != nil {
					return fmt.Errorf("bucket %s: %w", name, err)
				}
				if !live[pkid] {
					stale = append(stale, pkid)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}
