package models

import (
	"fmt"
	"strconv"
	"strings"
)

// IconSize is a square icon tier such as 64x64.
type IconSize int

// DefaultIconSize is the tier consuming UIs reference most, and the only
// one that receives substitute candidates during icon lookup.
const DefaultIconSize IconSize = 64

// ParseIconSize parses "64x64" or "64".
func ParseIconSize(s string) (IconSize, error) {
	w, h, found := strings.Cut(strings.TrimSpace(s), "x")
	if !found {
		h = w
	}
	wi, err := strconv.Atoi(w)
	if err != nil {
		return 0, fmt.Errorf("invalid icon size %q", s)
	}
	hi, err := strconv.Atoi(h)
	if err != nil || hi != wi || wi <= 0 {
		return 0, fmt.Errorf("invalid icon size %q", s)
	}
	return IconSize(wi), nil
}

// String returns the directory form, e.g. "64x64".
func (s IconSize) String() string {
	return fmt.Sprintf("%dx%d", int(s), int(s))
}
