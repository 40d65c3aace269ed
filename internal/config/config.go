// Package config manages the dep11gen configuration and the layout of a
// data directory. It handles loading, validating and initializing
// dep11-config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/kilupskalvis/dep11gen/internal/worker"
	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile   = "dep11-config.toml"
	DatabaseFile = "main.db"
	CacheDir     = "cache"
	ExportDir    = "export"
)

// ErrInvalidConfig is returned when the configuration is missing or incomplete.
var ErrInvalidConfig = errors.New("invalid configuration")

var defaultIconSizes = []string{"128x128", "64x64"}

// Suite lists what to process for one archive suite.
type Suite struct {
	Components    []string `toml:"components"`
	Architectures []string `toml:"architectures"`
}

// Config represents the generator configuration
type Config struct {
	ArchiveRoot       string           `toml:"archive_root"`
	MediaBaseURL      string           `toml:"media_base_url"`
	CacheDir          string           `toml:"cache_dir,omitempty"`
	ExportDir         string           `toml:"export_dir,omitempty"`
	DistroName        string           `toml:"distro_name,omitempty"`
	IconSizes         []string         `toml:"icon_sizes,omitempty"`
	Workers           int              `toml:"workers,omitempty"`
	MaxTasksPerWorker int              `toml:"max_tasks_per_worker,omitempty"`
	Suites            map[string]Suite `toml:"suites"`

	path  string // data directory
	sizes []models.IconSize
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Load reads and validates dep11-config.toml from the data directory and
// creates the cache and export directories.
func Load(dataDir string) (*Config, error) {
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dataDir, ConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, invalid("no %s in %s", ConfigFile, dataDir)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, invalid("failed to parse %s: %v", ConfigFile, err)
	}
	cfg.path = dataDir

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.CacheDir, cfg.ExportDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &cfg, nil
}

// normalize validates required fields and fills in defaults.
func (c *Config) normalize() error {
	if c.ArchiveRoot == "" {
		return invalid("archive_root is not set")
	}
	if c.MediaBaseURL == "" {
		return invalid("media_base_url is not set")
	}
	if len(c.Suites) == 0 {
		return invalid("no suites are defined")
	}
	for name, s := range c.Suites {
		if len(s.Components) == 0 {
			return invalid("suite %s has no components", name)
		}
		if len(s.Architectures) == 0 {
			return invalid("suite %s has no architectures", name)
		}
	}

	c.ArchiveRoot = c.resolve(c.ArchiveRoot, "")
	c.CacheDir = c.resolve(c.CacheDir, CacheDir)
	c.ExportDir = c.resolve(c.ExportDir, ExportDir)

	if info, err := os.Stat(c.ArchiveRoot); err != nil || !info.IsDir() {
		return invalid("archive_root %s is not a directory", c.ArchiveRoot)
	}

	if c.DistroName == "" {
		c.DistroName = "Debian"
	}
	if len(c.IconSizes) == 0 {
		c.IconSizes = defaultIconSizes
	}
	c.sizes = c.sizes[:0]
	for _, s := range c.IconSizes {
		size, err := models.ParseIconSize(s)
		if err != nil {
			return invalid("icon_sizes: %v", err)
		}
		c.sizes = append(c.sizes, size)
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MaxTasksPerWorker <= 0 {
		c.MaxTasksPerWorker = worker.DefaultMaxTasksPerWorker
	}
	return nil
}

// resolve makes p absolute relative to the data directory; an empty p
// becomes the data directory entry def.
func (c *Config) resolve(p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.path, p)
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// DataDir returns the data directory the configuration was loaded from.
func (c *Config) DataDir() string {
	return c.path
}

// DatabasePath returns the path to the bbolt database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.CacheDir, DatabaseFile)
}

// IconIndexPath returns where the icon index snapshot of a triple is kept
// for worker processes.
func (c *Config) IconIndexPath(t models.Triple) string {
	return filepath.Join(c.CacheDir, "icons", t.Suite+"_"+t.Component+"_"+t.Architecture+".idx")
}

// Sizes returns the parsed icon sizes.
func (c *Config) Sizes() []models.IconSize {
	return c.sizes
}

// Suite returns the named suite.
func (c *Config) Suite(name string) (Suite, bool) {
	s, ok := c.Suites[name]
	return s, ok
}

// SuiteNames returns the configured suites in sorted order.
func (c *Config) SuiteNames() []string {
	names := make([]string, 0, len(c.Suites))
	for name := range c.Suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize writes a new configuration into dataDir. It fails if one exists.
func Initialize(dataDir, archiveRoot, mediaBaseURL string, suites map[string]Suite) (*Config, error) {
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dataDir, ConfigFile)); err == nil {
		return nil, fmt.Errorf("%s already exists in %s", ConfigFile, dataDir)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		ArchiveRoot:  archiveRoot,
		MediaBaseURL: mediaBaseURL,
		IconSizes:    defaultIconSizes,
		Suites:       suites,
		path:         dataDir,
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	loaded, err := Load(dataDir)
	if err != nil {
		// Cleanup on failure
		os.Remove(filepath.Join(dataDir, ConfigFile))
		return nil, err
	}
	return loaded, nil
}
