// Package models defines the core data structures used throughout dep11gen
// including archive packages, extracted components, hints and icon sizes.
package models

import (
	"fmt"
	"strings"
)

// Package describes one binary package entry of an archive index.
type Package struct {
	Name         string `msgpack:"name"`
	Version      string `msgpack:"version"`
	Architecture string `msgpack:"arch"`
	Filename     string `msgpack:"filename"` // relative to the archive root
	Maintainer   string `msgpack:"maintainer"`
}

// ID returns the package's PackageID.
func (p *Package) ID() PackageID {
	return PackageID{Name: p.Name, Version: p.Version, Architecture: p.Architecture}
}

// PackageID identifies one archive entry exactly once per build cycle.
type PackageID struct {
	Name         string
	Version      string
	Architecture string
}

// String returns the stable "name/version/arch" form used as store key.
func (id PackageID) String() string {
	return id.Name + "/" + id.Version + "/" + id.Architecture
}

// ParsePackageID parses the "name/version/arch" form.
// Debian versions never contain a slash, so the split is unambiguous.
func ParsePackageID(s string) (PackageID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return PackageID{}, fmt.Errorf("invalid package id %q", s)
	}
	return PackageID{Name: parts[0], Version: parts[1], Architecture: parts[2]}, nil
}

// Triple names one unit of work: an archive suite, component and architecture.
type Triple struct {
	Suite        string
	Component    string
	Architecture string
}

func (t Triple) String() string {
	return t.Suite + "/" + t.Component + "/" + t.Architecture
}
