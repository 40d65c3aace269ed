// Package publish writes the durable DEP-11 output of a suite: compressed
// metadata and hints snapshots per architecture and icon tarballs per
// component. Every output file is replaced atomically.
package publish

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/klauspost/compress/gzip"
)

// Source is the part of the content store the publisher reads.
type Source interface {
	GetMetadataForPackage(pkid models.PackageID) (string, error)
	GetHints(pkid models.PackageID) (string, error)
	GetContentIDs(pkid models.PackageID) ([]string, error)
}

// Publisher writes snapshots below ExportDir.
type Publisher struct {
	ExportDir    string
	MediaBaseURL string
	IconSizes    []models.IconSize
	Logger       *slog.Logger
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// MediaDir is the root of the per-ContentID media pool.
func (p *Publisher) MediaDir() string {
	return filepath.Join(p.ExportDir, "media")
}

// DataDir holds the Components files and icon tarballs of a suite component.
func (p *Publisher) DataDir(suite, component string) string {
	return filepath.Join(p.ExportDir, "data", suite, component)
}

// HintsDir holds the hints files of a suite component.
func (p *Publisher) HintsDir(suite, component string) string {
	return filepath.Join(p.ExportDir, "hints", suite, component)
}

// ComponentsPath is the metadata snapshot of a triple.
func (p *Publisher) ComponentsPath(t models.Triple) string {
	return filepath.Join(p.DataDir(t.Suite, t.Component), "Components-"+t.Architecture+".yml.gz")
}

// HintsPath is the hints snapshot of a triple.
func (p *Publisher) HintsPath(t models.Triple) string {
	return filepath.Join(p.HintsDir(t.Suite, t.Component), "DEP11Hints_"+t.Architecture+".yml.gz")
}

// SnapshotStats counts what a snapshot contains.
type SnapshotStats struct {
	Packages     int
	WithMetadata int
	WithHints    int
}

// WriteSnapshot streams the header and then, in listing order, the metadata
// and hints of every package of the triple into the two snapshot files.
// Neither file is touched unless both were written completely.
func (p *Publisher) WriteSnapshot(src Source, t models.Triple, pkgs []models.Package) (*SnapshotStats, error) {
	header, err := models.Header(t.Suite, t.Component, p.MediaBaseURL)
	if err != nil {
		return nil, err
	}

	data, err := newGzipFile(p.ComponentsPath(t))
	if err != nil {
		return nil, err
	}
	defer data.discard()
	hints, err := newGzipFile(p.HintsPath(t))
	if err != nil {
		return nil, err
	}
	defer hints.discard()

	if _, err := io.WriteString(data, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	stats := &SnapshotStats{Packages: len(pkgs)}
	for i := range pkgs {
		pkid := pkgs[i].ID()
		md, err := src.GetMetadataForPackage(pkid)
		if err != nil {
			return nil, fmt.Errorf("read metadata of %s: %w", pkid, err)
		}
		if md != "" {
			if _, err := io.WriteString(data, md); err != nil {
				return nil, fmt.Errorf("write metadata of %s: %w", pkid, err)
			}
			stats.WithMetadata++
		}

		h, err := src.GetHints(pkid)
		if err != nil {
			return nil, fmt.Errorf("read hints of %s: %w", pkid, err)
		}
		if h != "" {
			if _, err := io.WriteString(hints, h); err != nil {
				return nil, fmt.Errorf("write hints of %s: %w", pkid, err)
			}
			stats.WithHints++
		}
	}

	if err := data.commit(); err != nil {
		return nil, err
	}
	if err := hints.commit(); err != nil {
		return nil, err
	}

	p.logger().Info("wrote snapshot", "triple", t.String(),
		"packages", stats.Packages, "metadata", stats.WithMetadata, "hints", stats.WithHints)
	return stats, nil
}

// gzipFile is a gzip stream into a pending file that replaces its target
// on commit. An uncommitted file is removed by discard.
type gzipFile struct {
	path string
	f    *renameio.PendingFile
	zw   *gzip.Writer
	done bool
}

func newGzipFile(path string) (*gzipFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := renameio.TempFile("", path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &gzipFile{path: path, f: f, zw: gzip.NewWriter(f)}, nil
}

func (g *gzipFile) Write(b []byte) (int, error) {
	return g.zw.Write(b)
}

func (g *gzipFile) commit() error {
	if err := g.zw.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", g.path, err)
	}
	if err := g.f.Chmod(0644); err != nil {
		return fmt.Errorf("chmod %s: %w", g.path, err)
	}
	if err := g.f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", g.path, err)
	}
	g.done = true
	return nil
}

func (g *gzipFile) discard() {
	if !g.done {
		_ = g.f.Cleanup()
	}
}
