// Package core implements the extraction cycle of dep11gen: it works out
// which packages of a suite still need processing, runs them through the
// worker pool, merges the results into the content store and publishes
// the snapshots. It also implements cache expiry.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/kilupskalvis/dep11gen/internal/archive"
	"github.com/kilupskalvis/dep11gen/internal/config"
	"github.com/kilupskalvis/dep11gen/internal/extract"
	"github.com/kilupskalvis/dep11gen/internal/iconindex"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/kilupskalvis/dep11gen/internal/publish"
	"github.com/kilupskalvis/dep11gen/internal/store"
	"github.com/kilupskalvis/dep11gen/internal/worker"
)

// ErrUnknownSuite is returned for a suite the configuration does not define.
var ErrUnknownSuite = errors.New("unknown suite")

// Generator runs extraction cycles against one content store.
type Generator struct {
	cfg       *config.Config
	store     *store.Store
	archive   *archive.Archive
	publisher *publish.Publisher
	spawner   worker.Spawner
	logger    *slog.Logger
}

// New creates a generator. The store must be open; the generator closes and
// reopens it around every worker pool run.
func New(cfg *config.Config, st *store.Store, spawner worker.Spawner, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:     cfg,
		store:   st,
		archive: archive.New(cfg.ArchiveRoot),
		publisher: &publish.Publisher{
			ExportDir:    cfg.ExportDir,
			MediaBaseURL: cfg.MediaBaseURL,
			IconSizes:    cfg.Sizes(),
			Logger:       logger,
		},
		spawner: spawner,
		logger:  logger,
	}
}

// Publisher returns the publisher writing the generator's output.
func (g *Generator) Publisher() *publish.Publisher {
	return g.publisher
}

// TripleResult summarizes the cycle of one (suite, component, architecture).
type TripleResult struct {
	Triple models.Triple
	// Packages is the size of the package list, Skipped how many of them
	// were processed in an earlier run.
	Packages  int
	Skipped   int
	Processed int
	Missing   int
	Snapshot  *publish.SnapshotStats
}

// ProcessResult summarizes a suite run.
type ProcessResult struct {
	Triples []*TripleResult
	// Icons counts the icons per component and size added to the tarballs.
	Icons map[string]map[models.IconSize]int
}

// ProcessSuite extracts every not yet processed package of a suite, then
// publishes the snapshots of each triple and the icon tarballs of each
// component. A pool abort stops the run; results merged before the abort
// stay in the store.
func (g *Generator) ProcessSuite(ctx context.Context, suiteName string) (*ProcessResult, error) {
	suite, ok := g.cfg.Suite(suiteName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSuite, suiteName)
	}

	result := &ProcessResult{Icons: make(map[string]map[models.IconSize]int)}
	for _, component := range suite.Components {
		var all []models.Package
		for _, arch := range suite.Architectures {
			t := models.Triple{Suite: suiteName, Component: component, Architecture: arch}
			tr, pkgs, err := g.processTriple(ctx, t)
			if tr != nil {
				result.Triples = append(result.Triples, tr)
			}
			if err != nil {
				return result, err
			}
			all = append(all, pkgs...)
		}

		counts, err := g.publisher.MakeIconTarballs(g.store, suiteName, component, all)
		if err != nil {
			return result, fmt.Errorf("icon tarballs of %s/%s: %w", suiteName, component, err)
		}
		result.Icons[component] = counts
		g.logger.Info("completed metadata extraction", "suite", suiteName, "component", component)
	}
	return result, nil
}

// processTriple runs ENUMERATE, DIFF, DISPATCH, REOPEN and PUBLISH for one
// triple and returns its package list.
func (g *Generator) processTriple(ctx context.Context, t models.Triple) (*TripleResult, []models.Package, error) {
	pkgs, err := g.archive.Packages(t.Suite, t.Component, t.Architecture)
	if err != nil {
		return nil, nil, fmt.Errorf("read packages of %s: %w", t, err)
	}

	var todo []models.Package
	for i := range pkgs {
		done, err := g.store.HasPackage(pkgs[i].ID())
		if err != nil {
			return nil, nil, fmt.Errorf("check %s: %w", pkgs[i].ID(), err)
		}
		if !done {
			todo = append(todo, pkgs[i])
		}
	}

	tr := &TripleResult{Triple: t, Packages: len(pkgs), Skipped: len(pkgs) - len(todo)}
	g.logger.Info("processing packages", "triple", t.String(),
		"todo", humanize.Comma(int64(len(todo))), "total", humanize.Comma(int64(len(pkgs))))

	if len(todo) > 0 {
		stats, err := g.extract(ctx, t, todo)
		tr.Processed = stats.Completed - stats.Missing
		tr.Missing = stats.Missing
		if err != nil {
			return tr, nil, err
		}
	}

	snap, err := g.publisher.WriteSnapshot(g.store, t, pkgs)
	if err != nil {
		return tr, nil, fmt.Errorf("publish %s: %w", t, err)
	}
	tr.Snapshot = snap
	return tr, pkgs, nil
}

// extract dispatches the packages to the worker pool. The store is closed
// while the pool runs; the merge sink is its only user until it is
// reopened for publishing.
func (g *Generator) extract(ctx context.Context, t models.Triple, todo []models.Package) (worker.Stats, error) {
	idx, err := g.buildIconIndex(t)
	if err != nil {
		return worker.Stats{}, err
	}
	idxPath := g.cfg.IconIndexPath(t)
	if err := os.MkdirAll(filepath.Dir(idxPath), 0755); err != nil {
		return worker.Stats{}, fmt.Errorf("create icon index directory: %w", err)
	}
	if err := idx.Save(idxPath); err != nil {
		return worker.Stats{}, err
	}
	defer os.Remove(idxPath)

	job := worker.Job{
		MediaDir:  g.publisher.MediaDir(),
		IconSizes: g.cfg.Sizes(),
		IndexPath: idxPath,
	}
	tasks := make([]worker.Task, len(todo))
	for i := range todo {
		tasks[i] = worker.Task{Seq: i, Request: extract.Request{
			Suite:       t.Suite,
			Component:   t.Component,
			Package:     todo[i],
			ArchivePath: g.archive.PackagePath(&todo[i]),
		}}
	}

	if err := g.store.Close(); err != nil {
		return worker.Stats{}, fmt.Errorf("close store: %w", err)
	}
	pool := &worker.Pool{
		Spawner:           g.spawner,
		Workers:           g.cfg.Workers,
		MaxTasksPerWorker: g.cfg.MaxTasksPerWorker,
		Logger:            g.logger,
	}
	stats, runErr := pool.Run(ctx, job, tasks, g.merge)
	if runErr != nil {
		g.logger.Error("worker pool aborted", "triple", t.String(),
			"dispatched", stats.Dispatched, "completed", stats.Completed, "error", runErr)
	}

	if err := g.store.Reopen(); err != nil {
		return stats, errors.Join(runErr, fmt.Errorf("reopen store: %w", err))
	}
	return stats, runErr
}

// merge stores one worker result. It runs in this process, one result at a
// time, and opens the store on first use.
func (g *Generator) merge(task worker.Task, res worker.Result) error {
	pkid := task.PackageID()
	if res.Missing {
		g.logger.Warn("package not found", "pkg", pkid.String(), "path", task.Request.ArchivePath)
		return nil
	}
	if err := g.store.Reopen(); err != nil {
		return err
	}
	if err := g.store.SetPackageComponents(pkid, res.Components); err != nil {
		return err
	}
	g.logger.Info("processed package", "pkg", pkid.String(), "suite", task.Request.Suite,
		"arch", pkid.Architecture, "components", len(res.Components))
	return nil
}

// buildIconIndex scans the Contents listings that can hold icons for the
// triple, resolving their package column through the Packages indexes of
// the listed components.
func (g *Generator) buildIconIndex(t models.Triple) (*iconindex.Index, error) {
	idx := iconindex.New()
	for _, l := range g.archive.ContentsListings(t.Suite, t.Component, t.Architecture) {
		paths := make(map[string]string)
		for _, c := range l.Components {
			pkgs, err := g.archive.Packages(t.Suite, c, t.Architecture)
			if errors.Is(err, archive.ErrIndexNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read packages of %s/%s: %w", t.Suite, c, err)
			}
			for i := range pkgs {
				paths[pkgs[i].Name] = g.archive.PackagePath(&pkgs[i])
			}
		}
		idx.AddPackages(paths)

		rc, err := archive.OpenContents(l.Path)
		if err != nil {
			return nil, err
		}
		err = idx.AddListing(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.Path, err)
		}
	}

	g.logger.Info("built icon index", "triple", t.String(),
		"lines", humanize.Comma(int64(idx.Lines())), "icons", humanize.Comma(int64(idx.Icons())))
	return idx, nil
}
