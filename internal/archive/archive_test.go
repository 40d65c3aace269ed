package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilupskalvis/dep11gen/internal/archive/debtest"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Packages index ====================

func TestParsePackages(t *testing.T) {
	text := `Package: foo
Version: 1.0-1
Architecture: amd64
Maintainer: Jane <jane@example.org>
Filename: pool/main/f/foo/foo_1.0-1_amd64.deb
Description: Foo
 a longer description
 .
 with paragraphs

Package: bar
Version: 2.0
Filename: pool/main/b/bar/bar_2.0_all.deb

Package: incomplete
Version: 1

Package: foo
Version: 1.1-1
Architecture: amd64
Filename: pool/main/f/foo/foo_1.1-1_amd64.deb
`
	pkgs, err := ParsePackages(strings.NewReader(text), "amd64")
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	assert.Equal(t, "foo", pkgs[0].Name)
	assert.Equal(t, "1.1-1", pkgs[0].Version, "later stanza replaces earlier one")
	assert.Equal(t, "bar", pkgs[1].Name)
	assert.Equal(t, "amd64", pkgs[1].Architecture, "missing architecture defaults to the index arch")
	assert.Equal(t, models.PackageID{Name: "bar", Version: "2.0", Architecture: "amd64"}, pkgs[1].ID())
}

func TestParsePackages_Malformed(t *testing.T) {
	_, err := ParsePackages(strings.NewReader("Package foo\n"), "amd64")
	assert.Error(t, err)
}

func TestArchive_PackagesFallsBackToGz(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, debtest.WritePackagesGz(root, "sid", "main", "amd64", []debtest.Stanza{
		{Name: "foo", Version: "1", Arch: "amd64", Filename: "pool/main/f/foo.deb"},
	}))

	pkgs, err := New(root).Packages("sid", "main", "amd64")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "Test <test@example.org>", pkgs[0].Maintainer)
	assert.Equal(t, filepath.Join(root, "pool/main/f/foo.deb"), New(root).PackagePath(&pkgs[0]))
}

func TestArchive_PackagesPlain(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dists", "sid", "main", "binary-arm64")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Packages"),
		[]byte("Package: foo\nVersion: 1\nFilename: pool/foo.deb\n"), 0644))

	pkgs, err := New(root).Packages("sid", "main", "arm64")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "arm64", pkgs[0].Architecture)
}

func TestArchive_PackagesMissing(t *testing.T) {
	_, err := New(t.TempDir()).Packages("sid", "main", "amd64")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

// ==================== Contents listings ====================

func TestArchive_ContentsListings(t *testing.T) {
	root := t.TempDir()
	for _, c := range []string{"contrib", "main", "universe"} {
		require.NoError(t, debtest.WriteContentsGz(root, "sid", c, "amd64", map[string]string{"usr/bin/x": "x"}))
	}

	listings := New(root).ContentsListings("sid", "contrib", "amd64")
	assert.Equal(t, []Listing{
		{Path: filepath.Join(root, "dists/sid/contrib/Contents-amd64.gz"), Components: []string{"contrib"}},
		{Path: filepath.Join(root, "dists/sid/main/Contents-amd64.gz"), Components: []string{"main"}},
		{Path: filepath.Join(root, "dists/sid/universe/Contents-amd64.gz"), Components: []string{"universe"}},
	}, listings)

	listings = New(root).ContentsListings("sid", "main", "amd64")
	assert.Len(t, listings, 2, "main is scanned once")
}

func TestArchive_ContentsListingsSuiteFallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dists", "focal"), 0755))
	require.NoError(t, debtest.WriteContentsGz(root, "focal", ".", "amd64", map[string]string{"usr/bin/x": "x"}))

	listings := New(root).ContentsListings("focal", "restricted", "amd64")
	assert.Equal(t, []Listing{{
		Path:       filepath.Join(root, "dists/focal/Contents-amd64.gz"),
		Components: []string{"restricted", "main", "universe"},
	}}, listings)

	assert.Empty(t, New(root).ContentsListings("other", "main", "amd64"))
}

func TestOpenContents(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, debtest.WriteContentsGz(root, "sid", "main", "amd64", map[string]string{
		"usr/share/pixmaps/foo.png": "foo",
	}))

	rc, err := OpenContents(filepath.Join(root, "dists/sid/main/Contents-amd64.gz"))
	require.NoError(t, err)
	defer rc.Close()

	buf := new(strings.Builder)
	_, err = io.Copy(buf, rc)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "usr/share/pixmaps/foo.png")
	assert.Contains(t, buf.String(), "misc/foo")
}

func TestDecodeText_Latin1(t *testing.T) {
	assert.Equal(t, "café", DecodeText([]byte{'c', 'a', 'f', 0xe9}))
	assert.Equal(t, "plain", DecodeText([]byte("plain")))
}

// ==================== Deb members ====================

func writeTestDeb(t *testing.T, entries []debtest.Entry, comp debtest.Compression) *Deb {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.deb")
	require.NoError(t, debtest.WriteDeb(path, entries, comp))
	deb, err := OpenDeb(path)
	require.NoError(t, err)
	return deb
}

func TestDeb_ReadFiles(t *testing.T) {
	for _, comp := range []debtest.Compression{debtest.Gzip, debtest.Xz, debtest.Zstd, debtest.None} {
		t.Run(string(comp), func(t *testing.T) {
			deb := writeTestDeb(t, []debtest.Entry{
				{Name: "usr/bin/foo", Data: []byte("binary")},
				{Name: "usr/share/applications/foo.desktop", Data: []byte("[Desktop Entry]\n")},
				{Name: "usr/share/applications/bar.desktop", Data: []byte("[Desktop Entry]\nName=Bar\n")},
			}, comp)

			files, err := deb.ReadFiles(func(name string) bool {
				return strings.HasPrefix(name, "usr/share/applications/")
			})
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, "usr/share/applications/foo.desktop", files[0].Name)
			assert.Equal(t, "[Desktop Entry]\nName=Bar\n", string(files[1].Data))
		})
	}
}

func TestDeb_ReadFilesFollowsSymlinks(t *testing.T) {
	deb := writeTestDeb(t, []debtest.Entry{
		{Name: "usr/share/foo/icon.png", Data: []byte("png")},
		{Name: "usr/share/pixmaps/foo.png", Link: "../foo/icon.png"},
		{Name: "usr/share/pixmaps/abs.png", Link: "/usr/share/foo/icon.png"},
		{Name: "usr/share/pixmaps/dangling.png", Link: "nowhere.png"},
		{Name: "usr/share/pixmaps/a.png", Link: "b.png"},
		{Name: "usr/share/pixmaps/b.png", Link: "a.png"},
	}, debtest.Gzip)

	files, err := deb.ReadFiles(func(name string) bool {
		return strings.HasPrefix(name, "usr/share/pixmaps/")
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "usr/share/pixmaps/foo.png", files[0].Name)
	assert.Equal(t, "png", string(files[0].Data))
	assert.Equal(t, "usr/share/pixmaps/abs.png", files[1].Name)
}

func TestDeb_ReadFile(t *testing.T) {
	deb := writeTestDeb(t, []debtest.Entry{{Name: "usr/share/pixmaps/foo.png", Data: []byte("png")}}, debtest.Xz)

	data, err := deb.ReadFile("/usr/share/pixmaps/foo.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = deb.ReadFile("usr/share/pixmaps/missing.png")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenDeb_Missing(t *testing.T) {
	_, err := OpenDeb(filepath.Join(t.TempDir(), "missing.deb"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDeb_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.deb")
	require.NoError(t, os.WriteFile(path, []byte("definitely not ar"), 0644))
	deb, err := OpenDeb(path)
	require.NoError(t, err)

	_, err = deb.ReadFiles(func(string) bool { return true })
	assert.Error(t, err)
}
