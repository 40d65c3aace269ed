package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/dep11gen/internal/models"
)

// ExpireResult summarizes a cache expiry.
type ExpireResult struct {
	RemovedPackages int
	RemovedMetadata int
}

// ExpireCache drops every package no configured suite lists anymore and
// then garbage-collects the metadata and media nothing references. It
// assumes no extraction cycle writes to the store at the same time.
func (g *Generator) ExpireCache() (*ExpireResult, error) {
	live := make(map[models.PackageID]bool)
	components := make(map[string]bool)
	for _, name := range g.cfg.SuiteNames() {
		suite, _ := g.cfg.Suite(name)
		for _, component := range suite.Components {
			components[component] = true
			for _, arch := range suite.Architectures {
				// an unreadable index would expire its whole triple
				pkgs, err := g.archive.Packages(name, component, arch)
				if err != nil {
					return nil, fmt.Errorf("read packages of %s/%s/%s: %w", name, component, arch, err)
				}
				for i := range pkgs {
					live[pkgs[i].ID()] = true
				}
			}
		}
	}

	stale, err := g.store.PackagesNotIn(live)
	if err != nil {
		return nil, fmt.Errorf("find stale packages: %w", err)
	}
	res := &ExpireResult{}
	for _, pkid := range stale {
		if err := g.store.RemovePackage(pkid); err != nil {
			return res, err
		}
		res.RemovedPackages++
	}

	gids, err := g.removeOrphans(components)
	res.RemovedMetadata = len(gids)
	if err != nil {
		return res, err
	}

	g.logger.Info("expired cache", "packages", res.RemovedPackages, "metadata", res.RemovedMetadata)
	return res, nil
}

// RemoveProcessed forgets every processed package of a suite so that the
// next run extracts it again. Ignored packages are kept; there is nothing
// to recompute for them.
func (g *Generator) RemoveProcessed(suiteName string) (int, error) {
	suite, ok := g.cfg.Suite(suiteName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSuite, suiteName)
	}

	removed := 0
	components := make(map[string]bool)
	for _, component := range suite.Components {
		components[component] = true
		for _, arch := range suite.Architectures {
			pkgs, err := g.archive.Packages(suiteName, component, arch)
			if err != nil {
				return removed, fmt.Errorf("read packages of %s/%s/%s: %w", suiteName, component, arch, err)
			}
			for i := range pkgs {
				pkid := pkgs[i].ID()
				ignored, err := g.store.IsIgnored(pkid)
				if err != nil {
					return removed, err
				}
				if ignored {
					continue
				}
				exists, err := g.store.HasPackage(pkid)
				if err != nil {
					return removed, err
				}
				if !exists {
					continue
				}
				if err := g.store.RemovePackage(pkid); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}

	if _, err := g.removeOrphans(components); err != nil {
		return removed, err
	}
	g.logger.Info("removed processed packages", "suite", suiteName, "packages", removed)
	return removed, nil
}

// removeOrphans deletes unreferenced metadata and the media directories of
// the deleted ContentIDs below every given component.
func (g *Generator) removeOrphans(components map[string]bool) ([]string, error) {
	gids, err := g.store.RemoveOrphanedMetadata()
	if err != nil {
		return nil, fmt.Errorf("remove orphaned metadata: %w", err)
	}

	media := g.publisher.MediaDir()
	for _, gid := range gids {
		for component := range components {
			root := filepath.Join(media, component)
			dir := filepath.Join(root, filepath.FromSlash(gid))
			if err := os.RemoveAll(dir); err != nil {
				return gids, fmt.Errorf("remove media of %s: %w", gid, err)
			}
			pruneEmptyParents(filepath.Dir(dir), root)
		}
	}
	return gids, nil
}

// pruneEmptyParents removes empty directories from dir upwards, stopping
// below root.
func pruneEmptyParents(dir, root string) {
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			// not empty, or already gone
			if !errors.Is(err, os.ErrNotExist) {
				return
			}
		}
		dir = filepath.Dir(dir)
	}
}
