package models

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the type of a component.
type Kind string

const (
	KindDesktopApp  Kind = "desktop-app"
	KindConsoleApp  Kind = "console-app"
	KindWebApp      Kind = "web-app"
	KindAddon       Kind = "addon"
	KindCodec       Kind = "codec"
	KindInputMethod Kind = "inputmethod"
	KindFont        Kind = "font"
	KindFirmware    Kind = "firmware"
	KindGeneric     Kind = "generic"
)

var knownKinds = map[Kind]bool{
	KindDesktopApp: true, KindConsoleApp: true, KindWebApp: true, KindAddon: true,
	KindCodec: true, KindInputMethod: true, KindFont: true, KindFirmware: true, KindGeneric: true,
}

// Upstream type names that map onto a DEP-11 kind.
var kindAliases = map[string]Kind{
	"desktop":             KindDesktopApp,
	"desktop-application": KindDesktopApp,
	"console-application": KindConsoleApp,
	"web-application":     KindWebApp,
}

// ParseKind maps an upstream component type to a Kind.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	k := Kind(s)
	if !knownKinds[k] {
		return "", fmt.Errorf("unknown component kind %q", s)
	}
	return k, nil
}

// HasIcon reports whether components of this kind must carry an icon.
func (k Kind) HasIcon() bool {
	return k == KindDesktopApp || k == KindWebApp
}

// Localized maps a locale ("C" for untranslated) to text.
type Localized map[string]string

// DBusProvide is a provided D-Bus service.
type DBusProvide struct {
	Type    string `yaml:"type" msgpack:"type"`
	Service string `yaml:"service" msgpack:"service"`
}

// FirmwareProvide is a provided firmware item; exactly one of GUID and
// Filename is set depending on Type.
type FirmwareProvide struct {
	Type     string `yaml:"type" msgpack:"type"`
	GUID     string `yaml:"guid,omitempty" msgpack:"guid"`
	Filename string `yaml:"fname,omitempty" msgpack:"fname"`
}

// Provides lists the interfaces a component offers.
type Provides struct {
	Mimetypes []string          `yaml:"mimetypes,omitempty" msgpack:"mimetypes"`
	Binaries  []string          `yaml:"binaries,omitempty" msgpack:"binaries"`
	Libraries []string          `yaml:"libraries,omitempty" msgpack:"libraries"`
	DBus      []DBusProvide     `yaml:"dbus,omitempty" msgpack:"dbus"`
	Firmware  []FirmwareProvide `yaml:"firmware,omitempty" msgpack:"firmware"`
	Python2   []string          `yaml:"python2,omitempty" msgpack:"python2"`
	Python3   []string          `yaml:"python3,omitempty" msgpack:"python3"`
	Codecs    []string          `yaml:"codecs,omitempty" msgpack:"codecs"`
}

// IsEmpty reports whether nothing is provided.
func (p *Provides) IsEmpty() bool {
	return len(p.Mimetypes) == 0 && len(p.Binaries) == 0 && len(p.Libraries) == 0 &&
		len(p.DBus) == 0 && len(p.Firmware) == 0 && len(p.Python2) == 0 &&
		len(p.Python3) == 0 && len(p.Codecs) == 0
}

// Icon references the cached icon file name inside the media pool.
type Icon struct {
	Cached string `yaml:"cached,omitempty" msgpack:"cached"`
}

// Image is a screenshot image reference.
type Image struct {
	URL string `yaml:"url" msgpack:"url"`
}

// Screenshot is an upstream screenshot.
type Screenshot struct {
	Default     bool      `yaml:"default,omitempty" msgpack:"default"`
	Caption     Localized `yaml:"caption,omitempty" msgpack:"caption"`
	SourceImage Image     `yaml:"source-image" msgpack:"source_image"`
}

// Release is an upstream release entry.
type Release struct {
	Version       string    `yaml:"version,omitempty" msgpack:"version"`
	UnixTimestamp int64     `yaml:"unix-timestamp" msgpack:"unix_timestamp"`
	Description   Localized `yaml:"description,omitempty" msgpack:"description"`
}

// Component is one piece of software metadata extracted from a package.
// Fields tagged yaml:"-" are bookkeeping and never published.
type Component struct {
	Kind                  Kind                `yaml:"Type" msgpack:"kind"`
	ID                    string              `yaml:"ID" msgpack:"id"`
	Package               string              `yaml:"Package" msgpack:"package"`
	Name                  Localized           `yaml:"Name,omitempty" msgpack:"name"`
	Summary               Localized           `yaml:"Summary,omitempty" msgpack:"summary"`
	Description           Localized           `yaml:"Description,omitempty" msgpack:"description"`
	DeveloperName         Localized           `yaml:"DeveloperName,omitempty" msgpack:"developer_name"`
	ProjectLicense        string              `yaml:"ProjectLicense,omitempty" msgpack:"project_license"`
	ProjectGroup          string              `yaml:"ProjectGroup,omitempty" msgpack:"project_group"`
	Categories            []string            `yaml:"Categories,omitempty" msgpack:"categories"`
	Keywords              map[string][]string `yaml:"Keywords,omitempty" msgpack:"keywords"`
	Icon                  *Icon               `yaml:"Icon,omitempty" msgpack:"icon"`
	URL                   map[string]string   `yaml:"Url,omitempty" msgpack:"url"`
	Provides              *Provides           `yaml:"Provides,omitempty" msgpack:"provides"`
	Extends               []string            `yaml:"Extends,omitempty" msgpack:"extends"`
	CompulsoryForDesktops []string            `yaml:"CompulsoryForDesktops,omitempty" msgpack:"compulsory"`
	Screenshots           []Screenshot        `yaml:"Screenshots,omitempty" msgpack:"screenshots"`
	Releases              []Release           `yaml:"Releases,omitempty" msgpack:"releases"`
	SourceChecksum        string              `yaml:"X-Source-Checksum,omitempty" msgpack:"checksum"`

	// IconName is the unresolved icon reference from the source data.
	IconName string `yaml:"-" msgpack:"icon_name"`
	// GlobalID is the ContentID; empty for hint-only components.
	GlobalID     string `yaml:"-" msgpack:"gid"`
	IgnoreReason string `yaml:"-" msgpack:"ignore_reason"`
	Hints        []Hint `yaml:"-" msgpack:"hints"`
}

// NewComponent creates an empty component belonging to a package.
func NewComponent(pkgName string) *Component {
	return &Component{
		Package: pkgName,
		Name:    Localized{},
		Summary: Localized{},
	}
}

// AddHint attaches a hint. Error-severity hints make the component hint-only.
func (c *Component) AddHint(tag string, params map[string]string) {
	c.Hints = append(c.Hints, Hint{Tag: tag, Params: params})
	if LookupHintTag(tag).Severity == SeverityError && c.IgnoreReason == "" {
		c.IgnoreReason = tag
	}
}

// Ignore marks the component as excluded from publication.
func (c *Component) Ignore(reason string) {
	if c.IgnoreReason == "" {
		c.IgnoreReason = reason
	}
}

// IsIgnored reports whether the component only carries hints.
func (c *Component) IsIgnored() bool {
	return c.IgnoreReason != ""
}

// Publishable reports whether the component has metadata to store.
func (c *Component) Publishable() bool {
	return !c.IsIgnored() && c.GlobalID != ""
}

// AddProvidedItem appends to one of the plain provides lists, skipping duplicates.
func (c *Component) AddProvidedItem(list *[]string, item string) {
	item = strings.TrimSpace(item)
	if item == "" {
		return
	}
	for _, v := range *list {
		if v == item {
			return
		}
	}
	*list = append(*list, item)
}

// EnsureProvides returns the component's provides, allocating it if needed.
func (c *Component) EnsureProvides() *Provides {
	if c.Provides == nil {
		c.Provides = &Provides{}
	}
	return c.Provides
}

// Validate reports why a component cannot be published, if it cannot.
func (c *Component) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("component of package %s has no id", c.Package)
	}
	if !knownKinds[c.Kind] {
		return fmt.Errorf("component %s has unknown kind %q", c.ID, c.Kind)
	}
	if c.Package == "" {
		return fmt.Errorf("component %s has no package", c.ID)
	}
	if len(c.Name) == 0 {
		return fmt.Errorf("component %s has no name", c.ID)
	}
	return nil
}

// Finalize validates the component and derives its ContentID from the
// checksum of its source data. Invalid components become hint-only.
func (c *Component) Finalize(checksum string) {
	if c.Provides != nil && c.Provides.IsEmpty() {
		c.Provides = nil
	}
	sort.Strings(c.Categories)
	if c.IsIgnored() {
		return
	}
	if c.ID == "" {
		c.AddHint(HintMissingComponentID, nil)
		return
	}
	if !knownKinds[c.Kind] {
		c.AddHint(HintInvalidComponentKind, map[string]string{"kind": string(c.Kind)})
		return
	}
	if err := c.Validate(); err != nil {
		c.AddHint(HintMetadataSerialization, map[string]string{"msg": err.Error()})
		return
	}
	c.SourceChecksum = checksum
	c.GlobalID = BuildGlobalID(c.ID, checksum)
}

var reverseDNSPrefixes = []string{"org.", "net.", "com.", "io.", "edu.", "name."}

// BuildGlobalID derives the ContentID for a component id and the checksum
// of its source data. Reverse-DNS ids are split on their first two dots so
// the media pool does not become one huge directory.
func BuildGlobalID(cid, checksum string) string {
	if cid == "" || checksum == "" {
		return ""
	}
	for _, prefix := range reverseDNSPrefixes {
		if !strings.HasPrefix(cid, prefix) {
			continue
		}
		parts := strings.SplitN(cid, ".", 3)
		if len(parts) == 3 && parts[1] != "" && parts[2] != "" {
			return strings.ToLower(parts[0]) + "/" + parts[1] + "/" + parts[2] + "/" + checksum
		}
	}
	first := strings.ToLower(cid[:1])
	two := cid
	if len(cid) > 2 {
		two = cid[:2]
	}
	return first + "/" + strings.ToLower(two) + "/" + cid + "/" + checksum
}
