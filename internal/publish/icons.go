package publish

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kilupskalvis/dep11gen/internal/models"
)

// IconTarballPath is the icon archive of one size for a suite component.
func (p *Publisher) IconTarballPath(suite, component string, size models.IconSize) string {
	return filepath.Join(p.DataDir(suite, component), "icons-"+size.String()+".tar.gz")
}

// MakeIconTarballs builds one icons-<size>.tar.gz per configured size from
// the media pool entries of every ContentID the packages reference. Files
// are stored flat by name; a name already added for a size is skipped.
func (p *Publisher) MakeIconTarballs(src Source, suite, component string, pkgs []models.Package) (map[models.IconSize]int, error) {
	sizes := p.IconSizes
	if len(sizes) == 0 {
		sizes = []models.IconSize{models.DefaultIconSize}
	}

	tars := make(map[models.IconSize]*iconTar, len(sizes))
	defer func() {
		for _, t := range tars {
			t.out.discard()
		}
	}()
	for _, size := range sizes {
		out, err := newGzipFile(p.IconTarballPath(suite, component, size))
		if err != nil {
			return nil, err
		}
		tars[size] = &iconTar{out: out, tw: tar.NewWriter(out), seen: make(map[string]bool)}
	}

	for i := range pkgs {
		pkid := pkgs[i].ID()
		gids, err := src.GetContentIDs(pkid)
		if err != nil {
			return nil, fmt.Errorf("read content ids of %s: %w", pkid, err)
		}
		for _, gid := range gids {
			for _, size := range sizes {
				dir := filepath.Join(p.MediaDir(), component, filepath.FromSlash(gid), "icons", size.String())
				if err := tars[size].addDir(dir); err != nil {
					return nil, err
				}
			}
		}
	}

	counts := make(map[models.IconSize]int, len(tars))
	for size, t := range tars {
		if err := t.tw.Close(); err != nil {
			return nil, fmt.Errorf("finish icon tarball %s: %w", size, err)
		}
		if err := t.out.commit(); err != nil {
			return nil, err
		}
		counts[size] = len(t.seen)
		p.logger().Debug("wrote icon tarball", "suite", suite, "component", component, "size", size.String(), "icons", len(t.seen))
	}
	return counts, nil
}

type iconTar struct {
	out  *gzipFile
	tw   *tar.Writer
	seen map[string]bool
}

// addDir adds every PNG file of dir that is not in the archive yet.
func (t *iconTar) addDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list icons: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if t.seen[name] {
			continue
		}
		if err := t.add(filepath.Join(dir, name), name); err != nil {
			return err
		}
		t.seen[name] = true
	}
	return nil
}

func (t *iconTar) add(path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open icon: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat icon: %w", err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Format:  tar.FormatPAX,
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("add icon %s: %w", name, err)
	}
	if _, err := io.Copy(t.tw, f); err != nil {
		return fmt.Errorf("add icon %s: %w", name, err)
	}
	return nil
}
