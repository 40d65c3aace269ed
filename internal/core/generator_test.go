package core

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilupskalvis/dep11gen/internal/archive/debtest"
	"github.com/kilupskalvis/dep11gen/internal/config"
	"github.com/kilupskalvis/dep11gen/internal/extract"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/kilupskalvis/dep11gen/internal/store"
	"github.com/kilupskalvis/dep11gen/internal/worker"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fooDesktop = `[Desktop Entry]
Type=Application
Name=Foo
Comment=Edit foos
Icon=foo
Exec=foo
`

func testPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.NRGBA{R: 10, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
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

// testArchive is a data directory with a one-suite archive next to it.
type testArchive struct {
	dataDir string
	root    string
	cfg     *config.Config
	store   *store.Store
}

func newTestArchive(t *testing.T) *testArchive {
	t.Helper()
	base := t.TempDir()
	ta := &testArchive{dataDir: filepath.Join(base, "dep11"), root: filepath.Join(base, "archive")}
	require.NoError(t, os.MkdirAll(ta.dataDir, 0755))
	require.NoError(t, os.MkdirAll(ta.root, 0755))

	conf := `archive_root = "` + ta.root + `"
media_base_url = "https://media.example.org"
workers = 1

[suites.sid]
components = ["main"]
architectures = ["amd64"]
`
	require.NoError(t, os.WriteFile(filepath.Join(ta.dataDir, config.ConfigFile), []byte(conf), 0644))

	cfg, err := config.Load(ta.dataDir)
	require.NoError(t, err)
	ta.cfg = cfg

	st, err := store.Open(cfg.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ta.store = st
	return ta
}

func (ta *testArchive) generator(spawner worker.Spawner) *Generator {
	return New(ta.cfg, ta.store, spawner, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (ta *testArchive) writeDeb(t *testing.T, name string, entries []debtest.Entry) debtest.Stanza {
	t.Helper()
	filename := "pool/main/" + name + "_1.0_amd64.deb"
	if entries != nil {
		require.NoError(t, debtest.WriteDeb(filepath.Join(ta.root, filename), entries, debtest.Xz))
	}
	return debtest.Stanza{Name: name, Version: "1.0", Arch: "amd64", Filename: filename}
}

func (ta *testArchive) writeIndex(t *testing.T, stanzas ...debtest.Stanza) {
	t.Helper()
	require.NoError(t, debtest.WritePackagesGz(ta.root, "sid", "main", "amd64", stanzas))
}

// scenario writes package A with one desktop application, package B
// without metadata and package C whose archive file is missing.
func (ta *testArchive) scenario(t *testing.T) (a, b, c debtest.Stanza) {
	t.Helper()
	a = ta.writeDeb(t, "foo", []debtest.Entry{
		{Name: "usr/bin/foo", Data: []byte("elf")},
		{Name: "usr/share/applications/foo.desktop", Data: []byte(fooDesktop)},
		{Name: "usr/share/pixmaps/foo.png", Data: testPNG(t, 48)},
	})
	b = ta.writeDeb(t, "libbar1", []debtest.Entry{{Name: "usr/lib/libbar.so.1", Data: []byte("elf")}})
	c = ta.writeDeb(t, "gone", nil)
	ta.writeIndex(t, a, b, c)
	require.NoError(t, debtest.WriteContentsGz(ta.root, "sid", "main", "amd64", map[string]string{
		"usr/bin/foo":               "foo",
		"usr/share/pixmaps/foo.png": "foo",
		"usr/lib/libbar.so.1":       "libbar1",
	}))
	return a, b, c
}

func pkid(s debtest.Stanza) models.PackageID {
	return models.PackageID{Name: s.Name, Version: s.Version, Architecture: s.Arch}
}

var sidMain = models.Triple{Suite: "sid", Component: "main", Architecture: "amd64"}

func TestProcessSuite_EndToEnd(t *testing.T) {
	ta := newTestArchive(t)
	a, b, c := ta.scenario(t)
	gen := ta.generator(&worker.InlineSpawner{})

	res, err := gen.ProcessSuite(context.Background(), "sid")
	require.NoError(t, err)
	require.Len(t, res.Triples, 1)
	tr := res.Triples[0]
	assert.Equal(t, 3, tr.Packages)
	assert.Equal(t, 0, tr.Skipped)
	assert.Equal(t, 2, tr.Processed)
	assert.Equal(t, 1, tr.Missing)
	assert.Equal(t, 1, tr.Snapshot.WithMetadata)

	require.True(t, ta.store.IsOpen(), "the store is reopened after the pool drains")

	gids, err := ta.store.GetContentIDs(pkid(a))
	require.NoError(t, err)
	require.Len(t, gids, 1)
	assert.True(t, strings.HasPrefix(gids[0], "f/fo/foo.desktop/"), gids[0])

	ignored, err := ta.store.IsIgnored(pkid(b))
	require.NoError(t, err)
	assert.True(t, ignored)

	has, err := ta.store.HasPackage(pkid(c))
	require.NoError(t, err)
	assert.False(t, has, "a missing archive stays eligible for retry")

	data := readGz(t, gen.Publisher().ComponentsPath(sidMain))
	header, err := models.Header("sid", "main", "https://media.example.org")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, header))
	body := strings.TrimPrefix(data, header)
	assert.Equal(t, 1, strings.Count(body, "---\n"), "exactly one component document")
	assert.Contains(t, body, "ID: foo.desktop")
	assert.Contains(t, body, "Package: foo")

	hints := readGz(t, gen.Publisher().HintsPath(sidMain))
	assert.Contains(t, hints, models.HintNoMetainfo)

	icon := filepath.Join(gen.Publisher().MediaDir(), "main", filepath.FromSlash(gids[0]), "icons", "64x64", "foo_foo.png")
	assert.FileExists(t, icon)
	assert.Equal(t, 1, res.Icons["main"][64])
	assert.FileExists(t, gen.Publisher().IconTarballPath("sid", "main", 128))

	_, err = os.Stat(ta.cfg.IconIndexPath(sidMain))
	assert.True(t, os.IsNotExist(err), "the icon index snapshot is removed after the run")
}

func TestProcessSuite_SecondRunIsIncremental(t *testing.T) {
	ta := newTestArchive(t)
	ta.scenario(t)
	counter := &countingExtractor{}
	gen := ta.generator(&worker.InlineSpawner{})

	_, err := gen.ProcessSuite(context.Background(), "sid")
	require.NoError(t, err)
	first := readGz(t, gen.Publisher().ComponentsPath(sidMain))

	gen = ta.generator(&worker.InlineSpawner{Extractor: counter})
	res, err := gen.ProcessSuite(context.Background(), "sid")
	require.NoError(t, err)

	tr := res.Triples[0]
	assert.Equal(t, 2, tr.Skipped, "processed and ignored packages are done")
	assert.Equal(t, []string{"gone"}, counter.names, "only the missing package is retried")
	assert.Equal(t, first, readGz(t, gen.Publisher().ComponentsPath(sidMain)))
}

func TestProcessSuite_UnknownSuite(t *testing.T) {
	ta := newTestArchive(t)
	_, err := ta.generator(&worker.InlineSpawner{}).ProcessSuite(context.Background(), "buster")
	assert.ErrorIs(t, err, ErrUnknownSuite)
}

func TestProcessSuite_MissingIndex(t *testing.T) {
	ta := newTestArchive(t)
	_, err := ta.generator(&worker.InlineSpawner{}).ProcessSuite(context.Background(), "sid")
	assert.Error(t, err)
	assert.True(t, ta.store.IsOpen())
}

// countingExtractor records the packages it is asked for and reports them missing.
type countingExtractor struct {
	names []string
}

func (c *countingExtractor) Extract(_ context.Context, req extract.Request) ([]*models.Component, error) {
	c.names = append(c.names, req.Package.Name)
	return nil, extract.ErrArchiveNotFound
}

// scriptedExtractor returns one desktop component per package and fails
// for the package named fail.
type scriptedExtractor struct {
	fail string
}

var errExtractorBug = errors.New("extractor bug")

func (s *scriptedExtractor) Extract(_ context.Context, req extract.Request) ([]*models.Component, error) {
	if req.Package.Name == s.fail {
		return nil, errExtractorBug
	}
	c := models.NewComponent(req.Package.Name)
	c.ID = req.Package.Name + ".desktop"
	c.Kind = models.KindDesktopApp
	c.Name["C"] = req.Package.Name
	c.Finalize("sum-" + req.Package.Name)
	return []*models.Component{c}, nil
}

func TestProcessSuite_PoolAbortKeepsCompletedWrites(t *testing.T) {
	ta := newTestArchive(t)
	var stanzas []debtest.Stanza
	for _, name := range []string{"aaa", "bad", "ccc", "ddd"} {
		stanzas = append(stanzas, ta.writeDeb(t, name, []debtest.Entry{{Name: "usr/bin/" + name, Data: []byte("x")}}))
	}
	ta.writeIndex(t, stanzas...)
	gen := ta.generator(&worker.InlineSpawner{Extractor: &scriptedExtractor{fail: "bad"}})

	res, err := gen.ProcessSuite(context.Background(), "sid")
	require.ErrorIs(t, err, worker.ErrPoolAborted)
	assert.ErrorContains(t, err, errExtractorBug.Error())
	require.True(t, ta.store.IsOpen())

	has, err := ta.store.HasPackage(pkid(stanzas[0]))
	require.NoError(t, err)
	assert.True(t, has, "writes before the failure are kept")
	for _, s := range stanzas[1:] {
		has, err := ta.store.HasPackage(pkid(s))
		require.NoError(t, err)
		assert.False(t, has, s.Name)
	}

	require.Len(t, res.Triples, 1)
	assert.Nil(t, res.Triples[0].Snapshot, "nothing is published after an abort")
	_, err = os.Stat(gen.Publisher().ComponentsPath(sidMain))
	assert.True(t, os.IsNotExist(err))
}

func TestExpireCache(t *testing.T) {
	ta := newTestArchive(t)
	a, b, _ := ta.scenario(t)
	gen := ta.generator(&worker.InlineSpawner{})
	_, err := gen.ProcessSuite(context.Background(), "sid")
	require.NoError(t, err)

	gids, err := ta.store.GetContentIDs(pkid(a))
	require.NoError(t, err)
	require.Len(t, gids, 1)
	media := filepath.Join(gen.Publisher().MediaDir(), "main", filepath.FromSlash(gids[0]))
	require.DirExists(t, media)

	// foo leaves the archive
	ta.writeIndex(t, b)

	res, err := gen.ExpireCache()
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedPackages)
	assert.Equal(t, 1, res.RemovedMetadata)

	has, err := ta.store.HasPackage(pkid(a))
	require.NoError(t, err)
	assert.False(t, has)
	ignored, err := ta.store.IsIgnored(pkid(b))
	require.NoError(t, err)
	assert.True(t, ignored, "live packages are kept")

	left, err := ta.store.ListContentIDs()
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.NoDirExists(t, media)
	assert.NoDirExists(t, filepath.Join(gen.Publisher().MediaDir(), "main", "f"), "empty parents are pruned")
}

func TestExpireCache_UnreadableIndexExpiresNothing(t *testing.T) {
	ta := newTestArchive(t)
	a, _, _ := ta.scenario(t)
	gen := ta.generator(&worker.InlineSpawner{})
	_, err := gen.ProcessSuite(context.Background(), "sid")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(ta.root, "dists", "sid", "main", "binary-amd64", "Packages.gz")))
	_, err = gen.ExpireCache()
	require.Error(t, err)

	has, err := ta.store.HasPackage(pkid(a))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRemoveProcessed(t *testing.T) {
	ta := newTestArchive(t)
	a, b, _ := ta.scenario(t)
	gen := ta.generator(&worker.InlineSpawner{})
	_, err := gen.ProcessSuite(context.Background(), "sid")
	require.NoError(t, err)

	removed, err := gen.RemoveProcessed("sid")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	has, err := ta.store.HasPackage(pkid(a))
	require.NoError(t, err)
	assert.False(t, has, "processed packages are forgotten")
	ignored, err := ta.store.IsIgnored(pkid(b))
	require.NoError(t, err)
	assert.True(t, ignored, "ignored packages are left alone")

	left, err := ta.store.ListContentIDs()
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = gen.RemoveProcessed("buster")
	assert.ErrorIs(t, err, ErrUnknownSuite)
}
