// Package debtest builds small Debian packages and archive trees for tests.
package debtest

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Entry is one member of the data tarball. A non-empty Link makes it a symlink.
type Entry struct {
	Name string
	Data []byte
	Link string
}

// Compression of the data member.
type Compression string

const (
	Gzip Compression = "gz"
	Xz   Compression = "xz"
	Zstd Compression = "zst"
	None Compression = ""
)

// BuildDeb returns the bytes of a .deb whose data member holds entries.
func BuildDeb(entries []Entry, comp Compression) ([]byte, error) {
	data, err := buildTar(entries, comp)
	if err != nil {
		return nil, err
	}

	member := "data.tar"
	if comp != None {
		member += "." + string(comp)
	}

	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		return nil, err
	}
	members := []struct {
		name string
		data []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", mustEmptyTarGz()},
		{member, data},
	}
	for _, m := range members {
		hdr := &ar.Header{Name: m.name, Size: int64(len(m.data)), Mode: 0644, ModTime: time.Unix(0, 0)}
		if err := w.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteDeb builds a .deb and writes it to path, creating parent directories.
func WriteDeb(path string, entries []Entry, comp Compression) error {
	data, err := BuildDeb(entries, comp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func buildTar(entries []Entry, comp Compression) ([]byte, error) {
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, e := range entries {
		hdr := &tar.Header{Name: "./" + strings.TrimPrefix(e.Name, "/"), Mode: 0644, ModTime: time.Unix(0, 0)}
		if e.Link != "" {
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Data))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if e.Link == "" {
			if _, err := tw.Write(e.Data); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	switch comp {
	case Gzip:
		zw := gzip.NewWriter(&out)
		if _, err := zw.Write(raw.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case Xz:
		xw, err := xz.NewWriter(&out)
		if err != nil {
			return nil, err
		}
		if _, err := xw.Write(raw.Bytes()); err != nil {
			return nil, err
		}
		if err := xw.Close(); err != nil {
			return nil, err
		}
	case Zstd:
		zw, err := zstd.NewWriter(&out)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(raw.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case None:
		return raw.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", comp)
	}
	return out.Bytes(), nil
}

func mustEmptyTarGz() []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	_ = tw.Close()
	_ = zw.Close()
	return buf.Bytes()
}

// Stanza is one package entry of a Packages index.
type Stanza struct {
	Name, Version, Arch, Filename string
}

// WritePackagesGz writes dists/<suite>/<component>/binary-<arch>/Packages.gz.
func WritePackagesGz(root, suite, component, arch string, stanzas []Stanza) error {
	var text strings.Builder
	for _, s := range stanzas {
		fmt.Fprintf(&text, "Package: %s\nVersion: %s\nArchitecture: %s\nFilename: %s\nMaintainer: Test <test@example.org>\nDescription: test package\n continued description\n\n",
			s.Name, s.Version, s.Arch, s.Filename)
	}
	dir := filepath.Join(root, "dists", suite, component, "binary-"+arch)
	return writeGz(filepath.Join(dir, "Packages.gz"), text.String())
}

// WriteContentsGz writes dists/<suite>/<component>/Contents-<arch>.gz from
// path -> package name pairs, sorted by path.
func WriteContentsGz(root, suite, component, arch string, files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var text strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&text, "%-60s misc/%s\n", p, files[p])
	}
	return writeGz(filepath.Join(root, "dists", suite, component, "Contents-"+arch+".gz"), text.String())
}

func writeGz(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
