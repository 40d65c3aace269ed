package extract

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/kilupskalvis/dep11gen/internal/archive"
	"github.com/kilupskalvis/dep11gen/internal/iconindex"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"golang.org/x/image/draw"
)

var errUnsupportedFormat = errors.New("unsupported image format")

// IconFinder resolves icon names to files in other packages.
type IconFinder interface {
	FindIcons(pkgName, iconName string, sizes []models.IconSize) map[models.IconSize]iconindex.FileRef
}

// isIconPath reports whether a package file can serve as an icon source.
func isIconPath(name string) bool {
	return strings.HasPrefix(name, "usr/share/icons/") || strings.HasPrefix(name, "usr/share/pixmaps/")
}

// ownIconIndex indexes the icon files shipped by the package itself, using
// the same tier rules as the archive-wide index.
func ownIconIndex(pkgName, archivePath string, names []string) (*iconindex.Index, error) {
	var listing strings.Builder
	for _, n := range names {
		listing.WriteString(n)
		listing.WriteString(" self/")
		listing.WriteString(pkgName)
		listing.WriteByte('\n')
	}
	idx := iconindex.New()
	idx.AddPackages(map[string]string{pkgName: archivePath})
	if err := idx.AddListing(strings.NewReader(listing.String())); err != nil {
		return nil, err
	}
	return idx, nil
}

// ownIndex builds the package's own icon index on first use.
type ownIndex struct {
	idx *iconindex.Index
}

func (o *ownIndex) get(pkgName, archivePath string, names []string) (*iconindex.Index, error) {
	if o.idx == nil {
		idx, err := ownIconIndex(pkgName, archivePath, names)
		if err != nil {
			return nil, err
		}
		o.idx = idx
	}
	return o.idx, nil
}

// iconBaseName strips a file extension and directory from an icon reference.
func iconBaseName(name string) string {
	name = path.Base(name)
	for _, ext := range []string{".png", ".svgz", ".svg", ".xpm"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func isVector(p string) bool {
	return strings.HasSuffix(p, ".svg") || strings.HasSuffix(p, ".svgz")
}

// renderIcon decodes a raster icon and scales it to a square of size.
func renderIcon(data []byte, iconPath string, size models.IconSize) ([]byte, error) {
	if isVector(iconPath) {
		return nil, errUnsupportedFormat
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, errUnsupportedFormat
		}
		return nil, err
	}

	s := int(size)
	b := src.Bounds()
	if b.Dx() == s && b.Dy() == s && strings.HasSuffix(iconPath, ".png") {
		return data, nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, s, s))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// iconSource reads icon files, opening each foreign package once.
type iconSource struct {
	own  *archive.Deb
	debs map[string]*archive.Deb
}

func (s *iconSource) read(ref iconindex.FileRef) ([]byte, error) {
	deb := s.own
	if ref.ArchivePath != s.own.Path() {
		var ok bool
		if deb, ok = s.debs[ref.ArchivePath]; !ok {
			var err error
			if deb, err = archive.OpenDeb(ref.ArchivePath); err != nil {
				return nil, err
			}
			s.debs[ref.ArchivePath] = deb
		}
	}
	return deb.ReadFile(ref.IconPath)
}

// resolveIcons renders every configured icon size of a publishable
// component and stores the results in the media pool. A component that
// ends up without a 64x64 icon is marked with an icon-not-found hint.
func (x *DebExtractor) resolveIcons(cpt *models.Component, req Request, src *iconSource, own *iconindex.Index) error {
	sizes := x.iconSizes()
	fname := cpt.IconName

	var refs map[models.IconSize]iconindex.FileRef
	name := iconBaseName(fname)
	switch {
	case fname == "":
	case path.IsAbs(fname):
		refs = map[models.IconSize]iconindex.FileRef{
			models.DefaultIconSize: {IconPath: archive.NormalizeName(fname), ArchivePath: req.ArchivePath},
		}
	default:
		refs = own.FindIcons(req.Package.Name, name, sizes)
		if _, ok := refs[models.DefaultIconSize]; !ok && x.Icons != nil {
			for size, ref := range x.Icons.FindIcons(req.Package.Name, name, sizes) {
				if _, have := refs[size]; !have {
					refs[size] = ref
				}
			}
		}
	}

	rendered := make(map[models.IconSize][]byte)
	for _, size := range sizes {
		ref, ok := refs[size]
		if !ok {
			continue
		}
		data, err := src.read(ref)
		if err == nil {
			data, err = renderIcon(data, ref.IconPath, size)
		}
		switch {
		case err == nil:
			rendered[size] = data
		case errors.Is(err, errUnsupportedFormat):
			cpt.AddHint(models.HintIconFormatUnsupported, map[string]string{"icon_fname": path.Base(ref.IconPath)})
		case size == models.DefaultIconSize:
			cpt.AddHint(models.HintIconLoadError, map[string]string{"icon_fname": fname, "msg": err.Error()})
		default:
			x.logger().Debug("skip icon size", "pkg", req.Package.Name, "icon", fname, "size", size.String(), "error", err)
		}
	}

	// a vector 64x64 source can still be served by a raster one
	if _, ok := rendered[models.DefaultIconSize]; !ok && refs != nil && !cpt.IsIgnored() {
		if ref, ok := refs[fallbackRasterSize]; ok && !isVector(ref.IconPath) {
			if data, err := src.read(ref); err == nil {
				if data, err = renderIcon(data, ref.IconPath, models.DefaultIconSize); err == nil {
					rendered[models.DefaultIconSize] = data
				}
			}
		}
	}

	if cpt.IsIgnored() {
		return nil
	}
	if _, ok := rendered[models.DefaultIconSize]; !ok {
		cpt.AddHint(models.HintIconNotFound, map[string]string{"icon_fname": fname})
		return nil
	}

	cached := req.Package.Name + "_" + name + ".png"
	for size, data := range rendered {
		dir := filepath.Join(x.MediaDir, req.Component, filepath.FromSlash(cpt.GlobalID), "icons", size.String())
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create icon directory: %w", err)
		}
		if err := renameio.WriteFile(filepath.Join(dir, cached), data, 0644); err != nil {
			return fmt.Errorf("store icon %s: %w", cached, err)
		}
	}
	cpt.Icon = &models.Icon{Cached: cached}
	return nil
}

// fallbackRasterSize is rendered down when the 64x64 source is a vector.
const fallbackRasterSize models.IconSize = 128

// iconSizes returns the configured sizes plus the mandatory 64x64, largest first.
func (x *DebExtractor) iconSizes() []models.IconSize {
	seen := map[models.IconSize]bool{models.DefaultIconSize: true}
	sizes := []models.IconSize{models.DefaultIconSize}
	for _, s := range x.IconSizes {
		if !seen[s] {
			seen[s] = true
			sizes = append(sizes, s)
		}
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
	return sizes
}
