package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/kilupskalvis/dep11gen/internal/archive"
	"github.com/kilupskalvis/dep11gen/internal/models"
)

const desktopGroup = "Desktop Entry"

// desktopEntry holds the keys of the [Desktop Entry] group. Keys keep their
// locale suffix, e.g. "Name[de]".
type desktopEntry struct {
	keys  map[string]string
	order []string
}

func (e *desktopEntry) get(key string) string {
	return e.keys[key]
}

// parseDesktopEntry reads the [Desktop Entry] group of an XDG desktop file.
// Other groups (actions) are skipped.
func parseDesktopEntry(data []byte) (*desktopEntry, error) {
	entry := &desktopEntry{keys: make(map[string]string)}
	group := ""
	found := false

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(archive.DecodeText(sc.Bytes()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: malformed group header", lineNo)
			}
			group = line[1 : len(line)-1]
			if group == desktopGroup {
				found = true
			}
			continue
		}
		if group == "" {
			return nil, fmt.Errorf("line %d: key outside of any group", lineNo)
		}
		if group != desktopGroup {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key=value", lineNo)
		}
		key = strings.TrimSpace(key)
		if _, dup := entry.keys[key]; !dup {
			entry.order = append(entry.order, key)
		}
		entry.keys[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no [%s] group", desktopGroup)
	}
	return entry, nil
}

// splitLocaleKey splits "Name[de_DE]" into ("Name", "de_DE"). Untranslated
// keys get the "C" locale.
func splitLocaleKey(key string) (string, string) {
	i := strings.IndexByte(key, '[')
	if i < 0 || !strings.HasSuffix(key, "]") {
		return key, "C"
	}
	return key[:i], key[i+1 : len(key)-1]
}

// splitList splits a desktop-file list value on ';' (and ',' for keywords),
// dropping empty items.
func splitList(value string, seps string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool { return strings.ContainsRune(seps, r) })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// readDesktopData fills cpt from a desktop file. It reports false when the
// file does not describe a visible application; the component then only
// carries hints.
func readDesktopData(cpt *models.Component, data []byte) bool {
	entry, err := parseDesktopEntry(data)
	if err != nil {
		cpt.AddHint(models.HintDesktopFileReadError, map[string]string{"msg": err.Error()})
		return false
	}

	if entry.get("Type") != "Application" {
		cpt.AddHint(models.HintNotAnApplication, nil)
		cpt.Ignore(models.HintNotAnApplication)
		return false
	}
	if strings.EqualFold(entry.get("NoDisplay"), "true") {
		cpt.AddHint(models.HintInvisibleApplication, nil)
		cpt.Ignore(models.HintInvisibleApplication)
		return false
	}

	applyDesktopEntry(cpt, entry)
	return true
}

// applyDesktopEntry copies the application keys of a desktop entry into
// cpt. Values already set from upstream XML win.
func applyDesktopEntry(cpt *models.Component, entry *desktopEntry) {
	if cpt.Kind == "" {
		cpt.Kind = models.KindDesktopApp
	}

	for _, key := range entry.order {
		value := entry.keys[key]
		if value == "" {
			continue
		}
		base, locale := splitLocaleKey(key)
		switch base {
		case "Name":
			setLocalized(&cpt.Name, locale, value)
		case "Comment":
			setLocalized(&cpt.Summary, locale, value)
		case "Categories":
			for _, c := range splitList(value, ";") {
				cpt.AddProvidedItem(&cpt.Categories, c)
			}
		case "Keywords":
			if cpt.Keywords == nil {
				cpt.Keywords = make(map[string][]string)
			}
			if _, ok := cpt.Keywords[locale]; !ok {
				cpt.Keywords[locale] = splitList(value, ";,")
			}
		case "MimeType":
			p := cpt.EnsureProvides()
			for _, m := range splitList(value, ";") {
				cpt.AddProvidedItem(&p.Mimetypes, m)
			}
		case "Icon":
			if cpt.IconName == "" {
				cpt.IconName = value
			}
		}
	}
}

// setLocalized sets a translation unless upstream XML already provided it.
func setLocalized(m *models.Localized, locale, value string) {
	if *m == nil {
		*m = models.Localized{}
	}
	if _, ok := (*m)[locale]; !ok {
		(*m)[locale] = value
	}
}
