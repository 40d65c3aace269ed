package publish

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is an in-memory content store.
type memSource struct {
	metadata map[models.PackageID]string
	hints    map[models.PackageID]string
	gids     map[models.PackageID][]string
	fail     models.PackageID
}

func newMemSource() *memSource {
	return &memSource{
		metadata: make(map[models.PackageID]string),
		hints:    make(map[models.PackageID]string),
		gids:     make(map[models.PackageID][]string),
	}
}

var errRead = errors.New("read failed")

func (m *memSource) GetMetadataForPackage(pkid models.PackageID) (string, error) {
	if pkid == m.fail {
		return "", errRead
	}
	return m.metadata[pkid], nil
}

func (m *memSource) GetHints(pkid models.PackageID) (string, error) {
	return m.hints[pkid], nil
}

func (m *memSource) GetContentIDs(pkid models.PackageID) ([]string, error) {
	return m.gids[pkid], nil
}

func pkg(name string) models.Package {
	return models.Package{Name: name, Version: "1.0", Architecture: "amd64", Filename: "pool/" + name + ".deb"}
}

func readGz(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func tarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var names []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	return names
}

var sid = models.Triple{Suite: "sid", Component: "main", Architecture: "amd64"}

func TestWriteSnapshot(t *testing.T) {
	p := &Publisher{ExportDir: t.TempDir(), MediaBaseURL: "https://media.example.org/"}
	src := newMemSource()
	a, b, c := pkg("a"), pkg("b"), pkg("c")
	src.metadata[a.ID()] = "---\nID: a.desktop\n"
	src.metadata[c.ID()] = "---\nID: c.desktop\n"
	src.hints[b.ID()] = "---\nPackage: b\n"

	stats, err := p.WriteSnapshot(src, sid, []models.Package{c, a, b})
	require.NoError(t, err)
	assert.Equal(t, &SnapshotStats{Packages: 3, WithMetadata: 2, WithHints: 1}, stats)

	data := readGz(t, p.ComponentsPath(sid))
	header, err := models.Header("sid", "main", "https://media.example.org/")
	require.NoError(t, err)
	assert.Equal(t, header+"---\nID: c.desktop\n---\nID: a.desktop\n", data, "listing order is kept")
	assert.Contains(t, header, "MediaBaseUrl: https://media.example.org/main")

	assert.Equal(t, "---\nPackage: b\n", readGz(t, p.HintsPath(sid)))
	assert.Equal(t, filepath.Join(p.ExportDir, "hints", "sid", "main", "DEP11Hints_amd64.yml.gz"), p.HintsPath(sid))
}

func TestWriteSnapshot_FailureKeepsPreviousFiles(t *testing.T) {
	p := &Publisher{ExportDir: t.TempDir(), MediaBaseURL: "https://media.example.org"}
	src := newMemSource()
	a := pkg("a")
	src.metadata[a.ID()] = "---\nID: a.desktop\n"

	_, err := p.WriteSnapshot(src, sid, []models.Package{a})
	require.NoError(t, err)
	before := readGz(t, p.ComponentsPath(sid))

	src.metadata[a.ID()] = "---\nID: changed\n"
	src.fail = a.ID()
	_, err = p.WriteSnapshot(src, sid, []models.Package{a})
	require.ErrorIs(t, err, errRead)

	assert.Equal(t, before, readGz(t, p.ComponentsPath(sid)))
	entries, err := os.ReadDir(p.DataDir("sid", "main"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func writeIcon(t *testing.T, p *Publisher, gid string, size models.IconSize, name string) {
	t.Helper()
	dir := filepath.Join(p.MediaDir(), "main", filepath.FromSlash(gid), "icons", size.String())
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("png:"+gid), 0644))
}

func TestMakeIconTarballs(t *testing.T) {
	p := &Publisher{ExportDir: t.TempDir(), IconSizes: []models.IconSize{64, 128}}
	src := newMemSource()
	a, b, c := pkg("a"), pkg("b"), pkg("c")
	src.gids[a.ID()] = []string{"a/a.desktop/111"}
	src.gids[b.ID()] = []string{"b/b.desktop/222", "a/a.desktop/111"}

	writeIcon(t, p, "a/a.desktop/111", 64, "a_a.png")
	writeIcon(t, p, "a/a.desktop/111", 128, "a_a.png")
	writeIcon(t, p, "b/b.desktop/222", 64, "b_b.png")
	// same file name under another ContentID is added once
	writeIcon(t, p, "b/b.desktop/222", 64, "a_a.png")

	counts, err := p.MakeIconTarballs(src, "sid", "main", []models.Package{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, map[models.IconSize]int{64: 2, 128: 1}, counts)

	assert.Equal(t, []string{"a_a.png", "b_b.png"}, tarNames(t, p.IconTarballPath("sid", "main", 64)))
	assert.Equal(t, []string{"a_a.png"}, tarNames(t, p.IconTarballPath("sid", "main", 128)))
}

func TestMakeIconTarballs_Empty(t *testing.T) {
	p := &Publisher{ExportDir: t.TempDir(), IconSizes: []models.IconSize{64}}
	counts, err := p.MakeIconTarballs(newMemSource(), "sid", "main", []models.Package{pkg("a")})
	require.NoError(t, err)
	assert.Equal(t, map[models.IconSize]int{64: 0}, counts)
	assert.Empty(t, tarNames(t, p.IconTarballPath("sid", "main", 64)))
}
