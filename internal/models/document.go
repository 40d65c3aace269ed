package models

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DEP11Version is the format version written into snapshot headers.
const DEP11Version = "0.8"

const docSeparator = "---\n"

type header struct {
	File         string `yaml:"File"`
	Version      string `yaml:"Version"`
	Origin       string `yaml:"Origin"`
	MediaBaseURL string `yaml:"MediaBaseUrl,omitempty"`
}

// Header renders the document that opens every metadata snapshot.
func Header(suite, component, mediaBaseURL string) (string, error) {
	h := header{
		File:    "DEP-11",
		Version: DEP11Version,
		Origin:  suite + "-" + component,
	}
	if mediaBaseURL != "" {
		h.MediaBaseURL = strings.TrimRight(mediaBaseURL, "/") + "/" + component
	}
	return marshalDoc(h)
}

// ToYAMLDoc renders the component's metadata document.
func (c *Component) ToYAMLDoc() (string, error) {
	return marshalDoc(c)
}

type hintsDoc struct {
	Package   string `yaml:"Package"`
	PackageID string `yaml:"PackageID"`
	ID        string `yaml:"ID,omitempty"`
	Hints     []Hint `yaml:"Hints"`
}

// HintsYAMLDoc renders the component's hints, or "" when it has none.
func (c *Component) HintsYAMLDoc(pkid PackageID) (string, error) {
	if len(c.Hints) == 0 {
		return "", nil
	}
	return marshalDoc(hintsDoc{
		Package:   c.Package,
		PackageID: pkid.String(),
		ID:        c.ID,
		Hints:     c.Hints,
	})
}

func marshalDoc(v any) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(docSeparator)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode yaml document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode yaml document: %w", err)
	}
	return buf.String(), nil
}
