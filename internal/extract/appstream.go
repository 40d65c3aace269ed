package extract

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strconv"
	"strings"

	"github.com/kilupskalvis/dep11gen/internal/models"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// maxReleases is the number of newest releases kept per component.
const maxReleases = 3

// xmlNode is a generic element tree; AppStream files are small and loosely
// structured, so walking a tree is simpler than binding structs.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) locale() string {
	for _, a := range n.Attrs {
		if a.Name.Local == "lang" && (a.Name.Space == xmlNamespace || a.Name.Space == "xml") {
			return a.Value
		}
	}
	return "C"
}

func (n *xmlNode) text() string {
	return strings.TrimSpace(n.Text)
}

// metainfo is the parsed form of an upstream AppStream file.
type metainfo struct {
	// desktop entry ids named by <launchable type="desktop-id">
	launchables []string
}

// readAppStreamXML fills cpt from an upstream metainfo file. Parse failures
// are recorded as hints; the component is then hint-only.
func readAppStreamXML(cpt *models.Component, data []byte) *metainfo {
	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	if err := dec.Decode(&root); err != nil {
		cpt.AddHint(models.HintMetainfoParseError, map[string]string{"msg": err.Error()})
		return nil
	}

	switch root.XMLName.Local {
	case "component":
	case "application":
		cpt.AddHint(models.HintAncientMetadata, nil)
	default:
		cpt.AddHint(models.HintMetainfoParseError, map[string]string{
			"msg": "unexpected root element <" + root.XMLName.Local + ">",
		})
		return nil
	}

	info := &metainfo{}
	setKind(cpt, root.attr("type"))

	for i := range root.Children {
		sub := &root.Children[i]
		locale := sub.locale()

		switch sub.XMLName.Local {
		case "id":
			cpt.ID = sub.text()
			// legacy <id type="desktop">
			if cpt.Kind == "" {
				setKind(cpt, sub.attr("type"))
			}
		case "name":
			setLocalized(&cpt.Name, locale, sub.text())
		case "summary":
			setLocalized(&cpt.Summary, locale, sub.text())
		case "description":
			cpt.Description = parseDescription(sub)
		case "screenshots":
			cpt.Screenshots = parseScreenshots(sub)
		case "provides":
			parseProvides(cpt, sub)
		case "url":
			if t := sub.attr("type"); t != "" {
				if cpt.URL == nil {
					cpt.URL = make(map[string]string)
				}
				cpt.URL[t] = sub.text()
			}
		case "project_license":
			cpt.ProjectLicense = sub.text()
		case "project_group":
			cpt.ProjectGroup = sub.text()
		case "developer_name":
			setLocalized(&cpt.DeveloperName, locale, sub.text())
		case "extends":
			cpt.Extends = append(cpt.Extends, sub.text())
		case "compulsory_for_desktop":
			cpt.CompulsoryForDesktops = append(cpt.CompulsoryForDesktops, sub.text())
		case "releases":
			cpt.Releases = parseReleases(cpt, sub)
		case "categories":
			for j := range sub.Children {
				if sub.Children[j].XMLName.Local == "category" {
					cpt.AddProvidedItem(&cpt.Categories, sub.Children[j].text())
				}
			}
		case "launchable":
			if sub.attr("type") == "desktop-id" && sub.text() != "" {
				info.launchables = append(info.launchables, sub.text())
			}
		case "icon":
			if sub.attr("type") == "stock" && cpt.IconName == "" {
				cpt.IconName = sub.text()
			}
		}
	}
	return info
}

// setKind maps an upstream type attribute; unknown kinds are kept verbatim
// so validation reports them.
func setKind(cpt *models.Component, raw string) {
	if raw == "" {
		return
	}
	if k, err := models.ParseKind(raw); err == nil {
		cpt.Kind = k
		return
	}
	cpt.Kind = models.Kind(raw)
}

var descEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// descText collapses whitespace and escapes markup characters.
func descText(s string) string {
	return descEscaper.Replace(strings.Join(strings.Fields(s), " "))
}

// parseDescription renders <p>, <ul> and <ol> children as HTML, combined per
// locale.
func parseDescription(n *xmlNode) models.Localized {
	desc := models.Localized{}
	for i := range n.Children {
		sub := &n.Children[i]
		switch sub.XMLName.Local {
		case "p":
			desc[sub.locale()] += "<p>" + descText(sub.Text) + "</p>"
		case "ul", "ol":
			items := make(map[string]string)
			var locales []string
			for j := range sub.Children {
				li := &sub.Children[j]
				if li.XMLName.Local != "li" {
					continue
				}
				loc := li.locale()
				if _, ok := items[loc]; !ok {
					locales = append(locales, loc)
				}
				items[loc] += "<li>" + descText(li.Text) + "</li>"
			}
			tag := sub.XMLName.Local
			for _, loc := range locales {
				desc[loc] += "<" + tag + ">" + items[loc] + "</" + tag + ">"
			}
		}
	}
	if len(desc) == 0 {
		return nil
	}
	return desc
}

// parseScreenshots keeps screenshots with a source image. Old-style files
// put the URL directly into <screenshot>.
func parseScreenshots(n *xmlNode) []models.Screenshot {
	var shots []models.Screenshot
	for i := range n.Children {
		sub := &n.Children[i]
		if sub.XMLName.Local != "screenshot" {
			continue
		}
		shot := models.Screenshot{Default: sub.attr("type") == "default"}
		if len(sub.Children) == 0 {
			if url := sub.text(); url != "" {
				shot.SourceImage = models.Image{URL: url}
				shots = append(shots, shot)
			}
			continue
		}
		for j := range sub.Children {
			tag := &sub.Children[j]
			switch tag.XMLName.Local {
			case "caption":
				if shot.Caption == nil {
					shot.Caption = models.Localized{}
				}
				shot.Caption[tag.locale()] = tag.text()
			case "image":
				// the first image is the source; later ones are thumbnails
				if shot.SourceImage.URL == "" && tag.attr("type") != "thumbnail" {
					shot.SourceImage = models.Image{URL: tag.text()}
				}
			}
		}
		if shot.SourceImage.URL != "" {
			shots = append(shots, shot)
		}
	}
	return shots
}

func parseProvides(cpt *models.Component, n *xmlNode) {
	p := cpt.EnsureProvides()
	for i := range n.Children {
		sub := &n.Children[i]
		value := sub.text()
		switch sub.XMLName.Local {
		case "binary":
			cpt.AddProvidedItem(&p.Binaries, value)
		case "library":
			cpt.AddProvidedItem(&p.Libraries, value)
		case "mimetype":
			cpt.AddProvidedItem(&p.Mimetypes, value)
		case "python2":
			cpt.AddProvidedItem(&p.Python2, value)
		case "python3":
			cpt.AddProvidedItem(&p.Python3, value)
		case "codec":
			cpt.AddProvidedItem(&p.Codecs, value)
		case "dbus":
			busType := sub.attr("type")
			if busType == "session" {
				busType = "user"
			}
			if busType != "" && value != "" {
				p.DBus = append(p.DBus, models.DBusProvide{Type: busType, Service: value})
			}
		case "firmware":
			switch fwType := sub.attr("type"); fwType {
			case "flashed":
				p.Firmware = append(p.Firmware, models.FirmwareProvide{Type: fwType, GUID: value})
			case "runtime":
				p.Firmware = append(p.Firmware, models.FirmwareProvide{Type: fwType, Filename: value})
			}
		}
	}
}

// parseReleases returns the newest releases first. Releases without a
// usable timestamp are skipped with a warning hint.
func parseReleases(cpt *models.Component, n *xmlNode) []models.Release {
	var rels []models.Release
	for i := range n.Children {
		sub := &n.Children[i]
		if sub.XMLName.Local != "release" {
			continue
		}
		version := sub.attr("version")
		ts := sub.attr("timestamp")
		if ts == "" {
			cpt.AddHint(models.HintReleaseWithoutTime, map[string]string{"version": version})
			continue
		}
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			cpt.AddHint(models.HintInvalidReleaseTime, map[string]string{"version": version})
			continue
		}
		rel := models.Release{Version: version, UnixTimestamp: unix}
		for j := range sub.Children {
			if sub.Children[j].XMLName.Local == "description" {
				rel.Description = parseDescription(&sub.Children[j])
			}
		}
		rels = append(rels, rel)
	}

	sort.SliceStable(rels, func(i, j int) bool { return rels[i].UnixTimestamp > rels[j].UnixTimestamp })
	if len(rels) > maxReleases {
		rels = rels[:maxReleases]
	}
	return rels
}
