// Package extract turns a Debian package into DEP-11 components: it reads
// the XDG desktop entries and AppStream upstream files a package ships,
// merges them, and stores the component icons in the media pool.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/kilupskalvis/dep11gen/internal/archive"
	"github.com/kilupskalvis/dep11gen/internal/models"
)

// ErrArchiveNotFound is returned when the package file does not exist. The
// orchestrator treats it as recoverable and skips the package.
var ErrArchiveNotFound = errors.New("package archive not found")

// Request describes one package to extract.
type Request struct {
	Suite       string         `msgpack:"suite"`
	Component   string         `msgpack:"component"`
	Package     models.Package `msgpack:"package"`
	ArchivePath string         `msgpack:"archive_path"`
}

// PackageID returns the id of the requested package.
func (r *Request) PackageID() models.PackageID {
	return r.Package.ID()
}

// Extractor produces the components of one package. Returning no components
// and no error means the package has nothing to publish.
type Extractor interface {
	Extract(ctx context.Context, req Request) ([]*models.Component, error)
}

// DebExtractor extracts components from .deb files.
type DebExtractor struct {
	// MediaDir is the root of the media pool (<export>/media).
	MediaDir  string
	IconSizes []models.IconSize
	// Icons resolves icons shipped by other packages; may be nil.
	Icons  IconFinder
	Logger *slog.Logger
}

func (x *DebExtractor) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

const (
	applicationsDir = "usr/share/applications/"
	metainfoDir     = "usr/share/metainfo/"
	appdataDir      = "usr/share/appdata/"
)

func isDesktopFile(name string) bool {
	return strings.HasPrefix(name, applicationsDir) && strings.HasSuffix(name, ".desktop")
}

func isMetainfoFile(name string) bool {
	return (strings.HasPrefix(name, metainfoDir) || strings.HasPrefix(name, appdataDir)) &&
		strings.HasSuffix(name, ".xml")
}

// sourced pairs a component with the raw files it was built from.
type sourced struct {
	cpt     *models.Component
	sources [][]byte
}

// Extract implements Extractor.
func (x *DebExtractor) Extract(ctx context.Context, req Request) ([]*models.Component, error) {
	deb, err := archive.OpenDeb(req.ArchivePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, req.ArchivePath)
	}
	if err != nil {
		return nil, err
	}

	var iconNames []string
	files, err := deb.ReadFiles(func(name string) bool {
		if isIconPath(name) {
			iconNames = append(iconNames, name)
		}
		return isDesktopFile(name) || isMetainfoFile(name)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.ArchivePath, err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pkgName := req.Package.Name
	desktop := make(map[string][]byte) // desktop-id -> data
	var desktopOrder []string
	var results []*sourced
	claimed := make(map[string]bool)

	for _, f := range files {
		if isDesktopFile(f.Name) {
			id := path.Base(f.Name)
			if _, dup := desktop[id]; !dup {
				desktopOrder = append(desktopOrder, id)
			}
			desktop[id] = f.Data
		}
	}

	hasMetainfo := false
	for _, f := range files {
		if !isMetainfoFile(f.Name) {
			continue
		}
		hasMetainfo = true
		cpt := models.NewComponent(pkgName)
		s := &sourced{cpt: cpt, sources: [][]byte{f.Data}}
		results = append(results, s)

		info := readAppStreamXML(cpt, f.Data)
		if info == nil {
			if cpt.ID == "" {
				cpt.ID = path.Base(f.Name)
			}
			continue
		}

		candidates := append([]string{}, info.launchables...)
		if cpt.ID != "" {
			candidates = append(candidates, cpt.ID, cpt.ID+".desktop")
		}
		for _, id := range candidates {
			data, ok := desktop[id]
			if !ok || claimed[id] {
				continue
			}
			claimed[id] = true
			if entry, err := parseDesktopEntry(data); err == nil {
				applyDesktopEntry(cpt, entry)
				s.sources = append(s.sources, data)
			}
			break
		}
		if cpt.Kind == "" {
			cpt.Kind = models.KindGeneric
		}
	}

	for _, id := range desktopOrder {
		if claimed[id] {
			continue
		}
		cpt := models.NewComponent(pkgName)
		cpt.ID = id
		results = append(results, &sourced{cpt: cpt, sources: [][]byte{desktop[id]}})
		if !readDesktopData(cpt, desktop[id]) {
			continue
		}
		if hasMetainfo {
			cpt.AddHint(models.HintDesktopEntryNotClaimed, map[string]string{"fname": id})
		} else {
			cpt.AddHint(models.HintNoMetainfo, nil)
		}
	}

	var own ownIndex
	src := &iconSource{own: deb, debs: make(map[string]*archive.Deb)}
	cpts := make([]*models.Component, 0, len(results))
	for _, s := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cpt := s.cpt
		cpt.Finalize(checksum(s.sources))

		if cpt.Publishable() && cpt.Kind.HasIcon() {
			idx, err := own.get(pkgName, req.ArchivePath, iconNames)
			if err != nil {
				return nil, err
			}
			if err := x.resolveIcons(cpt, req, src, idx); err != nil {
				return nil, err
			}
		}
		cpts = append(cpts, cpt)
	}
	return cpts, nil
}

// checksum is the SHA-256 over the metadata source files of a component.
func checksum(sources [][]byte) string {
	h := sha256.New()
	for _, s := range sources {
		h.Write(s)
	}
	return hex.EncodeToString(h.Sum(nil))
}
