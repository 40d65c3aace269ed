// Package iconindex answers "which archive holds an icon named X at size Y"
// from a pre-scanned Contents listing, without touching the packages
// themselves. Only lines below a small allow-list of icon theme directories
// are retained, so the index stays small even for multi-gigabyte listings.
package iconindex

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kilupskalvis/dep11gen/internal/archive"
	"github.com/kilupskalvis/dep11gen/internal/models"
)

// Tier names for candidates that are not a pixel size.
const (
	TierScalable = "scalable"
	TierPixmap   = "pixmap"
)

// Listing prefixes retained from a Contents file. Oxygen and Adwaita carry
// the default icon sets of KDE and GNOME applications.
var allowedPrefixes = []string{
	"usr/share/icons/hicolor/",
	"usr/share/pixmaps/",
	"usr/share/icons/oxygen/",
	"usr/share/icons/Adwaita/",
}

var themedExtensions = []string{".png", ".svg", ".svgz"}

const queryCacheSize = 4096

// fallbackRasterSize is downscaled when no 64x64 or vector icon exists.
const fallbackRasterSize models.IconSize = 128

// FileRef locates an icon file inside a package archive.
type FileRef struct {
	IconPath    string `msgpack:"icon_path"`    // path inside the archive, without leading slash
	ArchivePath string `msgpack:"archive_path"` // absolute path of the .deb
}

// candidate is one listing line that could satisfy a query.
type candidate struct {
	Tier    string `msgpack:"tier"`
	Path    string `msgpack:"path"`
	Package string `msgpack:"pkg"`
}

// Index is built once per (suite, component, architecture) and is safe for
// concurrent queries after building.
type Index struct {
	// icon base name -> candidates in listing order
	icons map[string][]candidate
	// package name -> absolute archive path
	packages map[string]string
	lines    int

	queries *lru.Cache[string, map[models.IconSize]FileRef]
}

// New creates an empty index.
func New() *Index {
	cache, err := lru.New[string, map[models.IconSize]FileRef](queryCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Index{
		icons:    make(map[string][]candidate),
		packages: make(map[string]string),
		queries:  cache,
	}
}

// Lines returns the number of listing lines retained.
func (idx *Index) Lines() int {
	return idx.lines
}

// Icons returns the number of distinct icon names known.
func (idx *Index) Icons() int {
	return len(idx.icons)
}

// AddPackages registers package name -> archive path mappings used to
// resolve the listing's package column. Later registrations win.
func (idx *Index) AddPackages(pkgs map[string]string) {
	for name, debPath := range pkgs {
		idx.packages[name] = debPath
	}
	idx.queries.Purge()
}

// AddListing scans a newline-delimited Contents listing and retains lines
// under the allowed icon directories. Several listings may be added; the
// index is their union.
func (idx *Index) AddListing(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := archive.DecodeText(sc.Bytes())
		if !hasAllowedPrefix(line) {
			continue
		}
		filePath, pkg, ok := splitListingLine(line)
		if !ok {
			continue
		}
		name, tier, ok := classify(filePath)
		if !ok {
			continue
		}
		idx.icons[name] = append(idx.icons[name], candidate{Tier: tier, Path: filePath, Package: pkg})
		idx.lines++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan contents listing: %w", err)
	}
	idx.queries.Purge()
	return nil
}

// FindIcons returns the best file reference per requested size for an icon.
// Sizes without a match are absent from the result. Only the 64x64 tier is
// back-filled when missing: first by a scalable icon, then by the 128x128
// match, then by an unsized pixmap. Among duplicate listing lines the first
// one in listing order wins; which duplicate that is is not specified.
func (idx *Index) FindIcons(pkgName, iconName string, sizes []models.IconSize) map[models.IconSize]FileRef {
	key := queryKey(iconName, sizes)
	if res, ok := idx.queries.Get(key); ok {
		return copyResult(res)
	}

	res := make(map[models.IconSize]FileRef)
	for _, size := range sizes {
		if ref, ok := idx.query(size.String(), iconName); ok {
			res[size] = ref
		}
	}

	if _, ok := res[models.DefaultIconSize]; !ok {
		if ref, ok := idx.query(TierScalable, iconName); ok {
			// vector graphics render to any size
			res[models.DefaultIconSize] = ref
		} else if ref, ok := idx.query(fallbackRasterSize.String(), iconName); ok {
			res[models.DefaultIconSize] = ref
		} else if ref, ok := idx.query(TierPixmap, iconName); ok {
			res[models.DefaultIconSize] = ref
		}
	}

	idx.queries.Add(key, res)
	return copyResult(res)
}

// query returns the first candidate of a tier whose package is known.
func (idx *Index) query(tier, iconName string) (FileRef, bool) {
	for _, c := range idx.icons[iconName] {
		if c.Tier != tier {
			continue
		}
		debPath, ok := idx.packages[c.Package]
		if !ok {
			continue
		}
		return FileRef{IconPath: c.Path, ArchivePath: debPath}, true
	}
	return FileRef{}, false
}

func queryKey(iconName string, sizes []models.IconSize) string {
	sorted := append([]models.IconSize(nil), sizes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	b.WriteString(iconName)
	for _, s := range sorted {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(int(s)))
	}
	return b.String()
}

func copyResult(m map[models.IconSize]FileRef) map[models.IconSize]FileRef {
	out := make(map[models.IconSize]FileRef, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func hasAllowedPrefix(line string) bool {
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// splitListingLine splits "path   section/pkg[,section/pkg2]". The path may
// contain spaces; the location column is always the last field. The first
// listed package is used.
func splitListingLine(line string) (filePath, pkg string, ok bool) {
	line = strings.TrimRight(line, " \t\r\n")
	i := strings.LastIndexAny(line, " \t")
	if i < 0 {
		return "", "", false
	}
	filePath = strings.TrimSpace(line[:i])
	location := line[i+1:]
	if first, _, found := strings.Cut(location, ","); found {
		location = first
	}
	_, pkg, found := strings.Cut(location, "/")
	if !found || pkg == "" || filePath == "" {
		return "", "", false
	}
	// nested sections such as "universe/graphics/pkg"
	if j := strings.LastIndex(pkg, "/"); j >= 0 {
		pkg = pkg[j+1:]
	}
	return filePath, pkg, true
}

// classify maps an icon path to its base name and tier.
//
//	usr/share/icons/<theme>/[...]/<size>/apps/<name>.<ext>
//	usr/share/pixmaps/<name>.png
func classify(filePath string) (name, tier string, ok bool) {
	if rest, found := strings.CutPrefix(filePath, "usr/share/pixmaps/"); found {
		if strings.Contains(rest, "/") || path.Ext(rest) != ".png" {
			return "", "", false
		}
		return strings.TrimSuffix(rest, ".png"), TierPixmap, true
	}

	dir, file := path.Split(filePath)
	ext := path.Ext(file)
	if !isThemedExtension(ext) {
		return "", "", false
	}
	dir = strings.TrimSuffix(dir, "/")
	if path.Base(dir) != "apps" {
		return "", "", false
	}
	tier = path.Base(path.Dir(dir))
	if tier != TierScalable {
		if _, err := models.ParseIconSize(tier); err != nil || !strings.Contains(tier, "x") {
			return "", "", false
		}
	}
	return strings.TrimSuffix(file, ext), tier, true
}

func isThemedExtension(ext string) bool {
	for _, e := range themedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
