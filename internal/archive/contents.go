package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

// Listing is a Contents file together with the components whose packages
// it describes.
type Listing struct {
	Path       string
	Components []string
}

// ContentsListings returns the Contents-<arch>.gz files to scan for icons
// of a component: the component itself, main, and universe when present.
// Archives without per-component listings fall back to the suite-wide one,
// which then stands for all of those components.
func (a *Archive) ContentsListings(suite, component, arch string) []Listing {
	name := "Contents-" + arch + ".gz"

	var components []string
	seen := make(map[string]bool)
	for _, c := range []string{component, "main", "universe"} {
		if !seen[c] {
			seen[c] = true
			components = append(components, c)
		}
	}

	var listings []Listing
	for _, c := range components {
		p := filepath.Join(a.Root, "dists", suite, c, name)
		if fileExists(p) {
			listings = append(listings, Listing{Path: p, Components: []string{c}})
		}
	}
	if len(listings) > 0 {
		return listings
	}

	p := filepath.Join(a.Root, "dists", suite, name)
	if fileExists(p) {
		return []Listing{{Path: p, Components: components}}
	}
	return nil
}

// OpenContents opens a gzip-compressed Contents listing.
func OpenContents(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open contents listing: %w", err)
	}
	zr, err := gzip.NewReader(bufio.NewReaderSize(f, 256*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read contents listing %s: %w", path, err)
	}
	return &contentsReader{Reader: zr, f: f}, nil
}

type contentsReader struct {
	*gzip.Reader
	f *os.File
}

func (r *contentsReader) Close() error {
	return errors.Join(r.Reader.Close(), r.f.Close())
}

// DecodeText returns b as a string, decoding it as ISO-8859-1 when it is
// not valid UTF-8.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
