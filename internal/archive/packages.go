// Package archive reads the Debian archive layout: Packages indexes,
// Contents listings and the members of .deb files.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// ErrIndexNotFound is returned when no Packages index exists for a triple.
var ErrIndexNotFound = errors.New("packages index not found")

// Archive is a Debian archive rooted at a local directory.
type Archive struct {
	Root string
}

// New returns an archive rooted at root.
func New(root string) *Archive {
	return &Archive{Root: root}
}

// PackageIndex is the package-index collaborator: it lists the packages of
// one (suite, component, architecture).
type PackageIndex interface {
	Packages(suite, component, arch string) ([]models.Package, error)
}

// PackagePath returns the absolute path of a package archive.
func (a *Archive) PackagePath(pkg *models.Package) string {
	return filepath.Join(a.Root, pkg.Filename)
}

// Packages reads dists/<suite>/<component>/binary-<arch>/Packages, trying
// the xz, then gz, then uncompressed variant. When a name appears several
// times the last stanza wins.
func (a *Archive) Packages(suite, component, arch string) ([]models.Package, error) {
	base := filepath.Join(a.Root, "dists", suite, component, "binary-"+arch, "Packages")

	for _, ext := range []string{".xz", ".gz", ""} {
		f, err := os.Open(base + ext)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open packages index: %w", err)
		}
		defer f.Close()

		r, err := decompress(f, ext)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", base+ext, err)
		}
		pkgs, err := ParsePackages(r, arch)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base+ext, err)
		}
		return pkgs, nil
	}
	return nil, fmt.Errorf("%w: %s/%s/%s", ErrIndexNotFound, suite, component, arch)
}

// decompress wraps r by file extension.
func decompress(r io.Reader, ext string) (io.Reader, error) {
	switch ext {
	case ".xz":
		return xz.NewReader(bufio.NewReader(r))
	case ".gz":
		return gzip.NewReader(bufio.NewReader(r))
	default:
		return bufio.NewReader(r), nil
	}
}

// ParsePackages parses RFC822-style stanzas. Stanzas without Package,
// Version or Filename are skipped; a missing Architecture defaults to arch.
func ParsePackages(r io.Reader, arch string) ([]models.Package, error) {
	var (
		pkgs  []models.Package
		index = make(map[string]int)
		cur   = make(map[string]string)
		last  string
	)

	flush := func() {
		defer func() { cur = make(map[string]string); last = "" }()
		p := models.Package{
			Name:         cur["package"],
			Version:      cur["version"],
			Architecture: cur["architecture"],
			Filename:     cur["filename"],
			Maintainer:   cur["maintainer"],
		}
		if p.Name == "" || p.Version == "" || p.Filename == "" {
			return
		}
		if p.Architecture == "" {
			p.Architecture = arch
		}
		if i, ok := index[p.Name]; ok {
			pkgs[i] = p
			return
		}
		index[p.Name] = len(pkgs)
		pkgs = append(pkgs, p)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := DecodeText(sc.Bytes())
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// continuation lines only matter for multi-line fields we skip
			if last != "" {
				cur[last] += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		last = strings.ToLower(strings.TrimSpace(key))
		cur[last] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return pkgs, nil
}
