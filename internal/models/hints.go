package models

import (
	"sort"
	"strings"
)

// Severity classifies a hint.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Hint is a diagnostic message attached to a component during extraction.
type Hint struct {
	Tag    string            `yaml:"tag" msgpack:"tag"`
	Params map[string]string `yaml:"params,omitempty" msgpack:"params"`
}

// HintTag describes a known hint tag.
type HintTag struct {
	Severity Severity
	Text     string // may reference params as {{name}}
}

// Known hint tags.
const (
	HintDesktopFileReadError   = "desktop-file-read-error"
	HintNotAnApplication       = "not-an-application"
	HintInvisibleApplication   = "invisible-application"
	HintMetainfoParseError     = "metainfo-parse-error"
	HintAncientMetadata        = "ancient-metadata"
	HintNoMetainfo             = "no-metainfo"
	HintIconNotFound           = "icon-not-found"
	HintIconFormatUnsupported  = "icon-format-unsupported"
	HintIconLoadError          = "icon-load-error"
	HintMetadataSerialization  = "metadata-serialization-failed"
	HintInvalidComponentKind   = "invalid-component-kind"
	HintMissingComponentID     = "missing-component-id"
	HintReleaseWithoutTime     = "release-timestamp-missing"
	HintInvalidReleaseTime     = "release-timestamp-invalid"
	HintDesktopEntryNotClaimed = "desktop-entry-unclaimed"
)

var hintTags = map[string]HintTag{
	HintDesktopFileReadError:   {SeverityError, "Unable to read the .desktop file: {{msg}}"},
	HintNotAnApplication:       {SeverityInfo, "The .desktop file does not describe an application."},
	HintInvisibleApplication:   {SeverityInfo, "The application is hidden (NoDisplay=true) and was skipped."},
	HintMetainfoParseError:     {SeverityError, "Unable to parse the AppStream upstream XML: {{msg}}"},
	HintAncientMetadata:        {SeverityInfo, "The metainfo file uses the obsolete <application> root tag."},
	HintNoMetainfo:             {SeverityInfo, "Component was built from a .desktop file only, no metainfo file was found."},
	HintIconNotFound:           {SeverityError, "Icon '{{icon_fname}}' was not found in the archive or is not available in a suitable size."},
	HintIconFormatUnsupported:  {SeverityWarning, "Icon file '{{icon_fname}}' uses an unsupported image format."},
	HintIconLoadError:          {SeverityError, "Icon '{{icon_fname}}' could not be loaded: {{msg}}"},
	HintMetadataSerialization:  {SeverityError, "Unable to serialize component metadata: {{msg}}"},
	HintInvalidComponentKind:   {SeverityError, "Component kind '{{kind}}' is not known."},
	HintMissingComponentID:     {SeverityError, "Component has no ID."},
	HintReleaseWithoutTime:     {SeverityWarning, "Release '{{version}}' has no timestamp and was skipped."},
	HintInvalidReleaseTime:     {SeverityWarning, "Release '{{version}}' has an invalid timestamp and was skipped."},
	HintDesktopEntryNotClaimed: {SeverityInfo, "Desktop entry '{{fname}}' is not referenced by any metainfo file."},
}

// LookupHintTag returns the registry entry for a tag. Unknown tags are
// reported as errors so that they are never silently published.
func LookupHintTag(tag string) HintTag {
	if t, ok := hintTags[tag]; ok {
		return t
	}
	return HintTag{Severity: SeverityError, Text: "Unknown hint tag '" + tag + "'."}
}

// Severity returns the severity of the hint's tag.
func (h Hint) Severity() Severity {
	return LookupHintTag(h.Tag).Severity
}

// Text expands the tag description with the hint's params.
func (h Hint) Text() string {
	text := LookupHintTag(h.Tag).Text
	keys := make([]string, 0, len(h.Params))
	for k := range h.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text = strings.ReplaceAll(text, "{{"+k+"}}", h.Params[k])
	}
	return text
}
