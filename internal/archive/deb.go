package archive

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrNoDataMember is returned for a .deb without a data.tar member.
var ErrNoDataMember = errors.New("deb has no data member")

// maxMemberSize caps how much of a single file is read into memory.
const maxMemberSize = 32 << 20

// maxLinkDepth bounds symlink chains, which may be cyclic.
const maxLinkDepth = 4

// Deb reads files from the data member of a Debian package.
type Deb struct {
	path string
}

// OpenDeb returns a reader for the package at path. The file is opened
// lazily for every scan so a Deb holds no descriptors.
func OpenDeb(path string) (*Deb, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &Deb{path: path}, nil
}

// Path returns the package file path.
func (d *Deb) Path() string {
	return d.path
}

// File is one regular file read from the data member.
type File struct {
	Name string // normalized, no leading "./" or "/"
	Data []byte
}

// ReadFiles returns every regular file whose normalized name satisfies
// match, in archive order. Symlinks are followed within the archive so a
// matched link yields the target's content under the link's name.
func (d *Deb) ReadFiles(match func(name string) bool) ([]File, error) {
	return d.readFiles(match, maxLinkDepth)
}

func (d *Deb) readFiles(match func(name string) bool, depth int) ([]File, error) {
	var (
		files   []File
		links   = make(map[string]string) // link name -> target
		content = make(map[string][]byte)
	)

	err := d.walk(func(hdr *tar.Header, r io.Reader) error {
		name := NormalizeName(hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeReg:
			if !match(name) {
				return nil
			}
			data, err := io.ReadAll(io.LimitReader(r, maxMemberSize))
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			content[name] = data
			files = append(files, File{Name: name})
		case tar.TypeSymlink:
			if match(name) {
				links[name] = resolveLink(name, hdr.Linkname)
				files = append(files, File{Name: name})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// link targets outside the match set need a second pass
	var missing []string
	for _, target := range links {
		if _, ok := content[target]; !ok {
			missing = append(missing, target)
		}
	}
	if len(missing) > 0 && depth > 0 {
		want := make(map[string]bool, len(missing))
		for _, m := range missing {
			want[m] = true
		}
		extra, err := d.readFiles(func(name string) bool { return want[name] }, depth-1)
		if err != nil {
			return nil, err
		}
		for _, f := range extra {
			content[f.Name] = f.Data
		}
	}

	out := files[:0]
	for _, f := range files {
		data, ok := content[f.Name]
		if !ok {
			data, ok = content[links[f.Name]]
		}
		if !ok {
			// dangling link
			continue
		}
		out = append(out, File{Name: f.Name, Data: data})
	}
	return out, nil
}

// ReadFile returns a single file from the data member.
func (d *Deb) ReadFile(name string) ([]byte, error) {
	name = NormalizeName(name)
	files, err := d.ReadFiles(func(n string) bool { return n == name })
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return files[0].Data, nil
}

// walk streams every entry of the data member.
func (d *Deb) walk(fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()

	arr := ar.NewReader(bufio.NewReader(f))
	for {
		hdr, err := arr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: %w", d.path, ErrNoDataMember)
		}
		if err != nil {
			return fmt.Errorf("read ar member of %s: %w", d.path, err)
		}
		member := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if !strings.HasPrefix(member, "data.tar") {
			continue
		}

		r, closeFn, err := openMember(arr, path.Ext(member))
		if err != nil {
			return fmt.Errorf("open %s in %s: %w", member, d.path, err)
		}
		defer closeFn()

		tr := tar.NewReader(r)
		for {
			th, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read %s in %s: %w", member, d.path, err)
			}
			if err := fn(th, tr); err != nil {
				return err
			}
		}
	}
}

func openMember(r io.Reader, ext string) (io.Reader, func(), error) {
	noop := func() {}
	switch ext {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, noop, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case ".bz2":
		return bzip2.NewReader(r), noop, nil
	case ".tar":
		return r, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression %q", ext)
	}
}

// NormalizeName strips the "./" or "/" prefix tar members usually carry.
func NormalizeName(name string) string {
	name = strings.TrimPrefix(name, "./")
	return strings.TrimPrefix(name, "/")
}

func resolveLink(name, target string) string {
	if strings.HasPrefix(target, "/") {
		return NormalizeName(path.Clean(target))
	}
	return NormalizeName(path.Clean(path.Join(path.Dir(name), target)))
}
