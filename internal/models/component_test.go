package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGlobalID(t *testing.T) {
	tests := []struct {
		cid      string
		checksum string
		want     string
	}{
		{"org.gnome.Nautilus.desktop", "abc", "org/gnome/Nautilus.desktop/abc"},
		{"io.github.Foo", "abc", "io/github/Foo/abc"},
		{"firefox.desktop", "abc", "f/fi/firefox.desktop/abc"},
		{"Krita.desktop", "abc", "k/kr/Krita.desktop/abc"},
		{"x", "abc", "x/x/x/abc"},
		{"org.", "abc", "o/or/org./abc"},
		{"", "abc", ""},
		{"foo", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.cid, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildGlobalID(tt.cid, tt.checksum))
		})
	}
}

func TestBuildGlobalID_SameInputSameID(t *testing.T) {
	a := BuildGlobalID("org.kde.krita", "deadbeef")
	b := BuildGlobalID("org.kde.krita", "deadbeef")
	c := BuildGlobalID("org.kde.krita", "cafebabe")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestParsePackageID(t *testing.T) {
	id, err := ParsePackageID("foo/1.0-1/amd64")
	require.NoError(t, err)
	assert.Equal(t, PackageID{Name: "foo", Version: "1.0-1", Architecture: "amd64"}, id)
	assert.Equal(t, "foo/1.0-1/amd64", id.String())

	_, err = ParsePackageID("foo/1.0")
	assert.Error(t, err)
	_, err = ParsePackageID("foo//amd64")
	assert.Error(t, err)
}

func TestParseIconSize(t *testing.T) {
	s, err := ParseIconSize("64x64")
	require.NoError(t, err)
	assert.Equal(t, IconSize(64), s)
	assert.Equal(t, "64x64", s.String())

	s, err = ParseIconSize("128")
	require.NoError(t, err)
	assert.Equal(t, IconSize(128), s)

	_, err = ParseIconSize("64x32")
	assert.Error(t, err)
	_, err = ParseIconSize("big")
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("desktop")
	require.NoError(t, err)
	assert.Equal(t, KindDesktopApp, k)

	k, err = ParseKind("desktop-application")
	require.NoError(t, err)
	assert.Equal(t, KindDesktopApp, k)

	k, err = ParseKind("addon")
	require.NoError(t, err)
	assert.Equal(t, KindAddon, k)

	_, err = ParseKind("spaceship")
	assert.Error(t, err)
}

func TestComponent_Finalize(t *testing.T) {
	c := NewComponent("foo")
	c.ID = "org.example.Foo"
	c.Kind = KindDesktopApp
	c.Name["C"] = "Foo"
	c.Categories = []string{"Utility", "Graphics"}

	c.Finalize("sum1")

	assert.False(t, c.IsIgnored())
	assert.True(t, c.Publishable())
	assert.Equal(t, "org/example/Foo/sum1", c.GlobalID)
	assert.Equal(t, "sum1", c.SourceChecksum)
	assert.Equal(t, []string{"Graphics", "Utility"}, c.Categories)
}

func TestComponent_FinalizeInvalid(t *testing.T) {
	c := NewComponent("foo")
	c.Kind = KindDesktopApp
	c.Finalize("sum1")
	assert.True(t, c.IsIgnored())
	assert.Empty(t, c.GlobalID)
	require.Len(t, c.Hints, 1)
	assert.Equal(t, HintMissingComponentID, c.Hints[0].Tag)

	c = NewComponent("foo")
	c.ID = "foo"
	c.Kind = "spaceship"
	c.Name["C"] = "Foo"
	c.Finalize("sum1")
	assert.True(t, c.IsIgnored())
	assert.Equal(t, HintInvalidComponentKind, c.Hints[0].Tag)
}

func TestComponent_ErrorHintIgnores(t *testing.T) {
	c := NewComponent("foo")
	c.AddHint(HintAncientMetadata, nil)
	assert.False(t, c.IsIgnored())

	c.AddHint(HintIconNotFound, map[string]string{"icon_fname": "foo"})
	assert.True(t, c.IsIgnored())
	assert.Equal(t, HintIconNotFound, c.IgnoreReason)
}

func TestComponent_ToYAMLDoc(t *testing.T) {
	c := NewComponent("foo")
	c.ID = "foo.desktop"
	c.Kind = KindDesktopApp
	c.Name["C"] = "Foo"
	c.Name["de"] = "Fu"
	c.Icon = &Icon{Cached: "foo_foo.png"}
	c.EnsureProvides().Mimetypes = []string{"text/plain"}
	c.Finalize("sum")

	doc, err := c.ToYAMLDoc()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "---\n"))
	assert.Contains(t, doc, "Type: desktop-app\n")
	assert.Contains(t, doc, "ID: foo.desktop\n")
	assert.Contains(t, doc, "Package: foo\n")
	assert.Contains(t, doc, "  de: Fu\n")
	assert.Contains(t, doc, "  cached: foo_foo.png\n")
	assert.Contains(t, doc, "X-Source-Checksum: sum\n")
	assert.NotContains(t, doc, "Summary")
	assert.NotContains(t, doc, "GlobalID")
	// Type must come first so consumers can dispatch early
	assert.Less(t, strings.Index(doc, "Type:"), strings.Index(doc, "ID:"))
}

func TestComponent_HintsYAMLDoc(t *testing.T) {
	pkid := PackageID{Name: "foo", Version: "1.0", Architecture: "amd64"}

	c := NewComponent("foo")
	doc, err := c.HintsYAMLDoc(pkid)
	require.NoError(t, err)
	assert.Empty(t, doc)

	c.ID = "foo.desktop"
	c.AddHint(HintNotAnApplication, nil)
	c.AddHint(HintDesktopFileReadError, map[string]string{"msg": "bad line"})
	doc, err = c.HintsYAMLDoc(pkid)
	require.NoError(t, err)
	assert.Contains(t, doc, "PackageID: foo/1.0/amd64\n")
	assert.Contains(t, doc, "- tag: not-an-application\n")
	assert.Contains(t, doc, "msg: bad line")
}

func TestHeader(t *testing.T) {
	h, err := Header("sid", "main", "https://example.org/media/")
	require.NoError(t, err)
	assert.Equal(t, "---\nFile: DEP-11\nVersion: \"0.8\"\nOrigin: sid-main\nMediaBaseUrl: https://example.org/media/main\n", h)
}

func TestHint_Text(t *testing.T) {
	h := Hint{Tag: HintIconNotFound, Params: map[string]string{"icon_fname": "krita"}}
	assert.Equal(t, SeverityError, h.Severity())
	assert.Contains(t, h.Text(), "'krita'")

	unknown := Hint{Tag: "made-up"}
	assert.Equal(t, SeverityError, unknown.Severity())
}
