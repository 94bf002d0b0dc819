package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the project root.
const FileName = "upstream.yaml"

// Environment overrides, applied after the file.
const (
	EnvFileScan     = "UPSTREAM_FILE_SCAN"
	EnvVerbosePrune = "UPSTREAM_VERBOSE_PRUNE"
	EnvLSPCommand   = "UPSTREAM_LSP_COMMAND"
)

// Config represents the upstream configuration.
type Config struct {
	Search  SearchConfig        `yaml:"search"`
	Prune   PruneConfig         `yaml:"prune"`
	Backend BackendConfig       `yaml:"backend"`
	Server  ServerConfig        `yaml:"server"`
	Cache   CacheConfig         `yaml:"cache"`
	Layers  map[string][]string `yaml:"layers"`
}

// SearchConfig controls caller resolution and the textual fallback scan.
type SearchConfig struct {
	FileScan    bool     `yaml:"file_scan"` // run the file scan without an exhaustive request
	Include     []string `yaml:"include"`
	ExcludeDirs []string `yaml:"exclude_dirs"`
	ScanWorkers int      `yaml:"scan_workers"`
}

// PruneConfig controls prune diagnostics.
type PruneConfig struct {
	Verbose bool `yaml:"verbose"`
}

// BackendConfig describes the language server used for caller discovery.
// An empty Command means no backend; only the file scan can find callers.
type BackendConfig struct {
	Command     []string      `yaml:"command"`
	LanguageID  string        `yaml:"language_id"`
	InitTimeout time.Duration `yaml:"init_timeout"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// CacheConfig sizes the document cache.
type CacheConfig struct {
	Documents int `yaml:"documents"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Include:     []string{"*.cs"},
			ExcludeDirs: []string{"bin", "obj", "node_modules", ".git", ".vs"},
			ScanWorkers: 8,
		},
		Backend: BackendConfig{
			LanguageID:  "csharp",
			InitTimeout: 60 * time.Second,
		},
		Server: ServerConfig{Port: 8080},
		Cache:  CacheConfig{Documents: 256},
		Layers: map[string][]string{
			"controller": {"**/Controllers/**", "**/Endpoints/**"},
			"service":    {"**/Services/**", "**/Application/**"},
			"data":       {"**/Repositories/**", "**/Data/**", "**/Persistence/**"},
			"domain":     {"**/Domain/**", "**/Models/**"},
		},
	}
}

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for upstream.yaml in the current directory.
// Values set in the file replace the corresponding defaults.
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = FileName
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	defaults.Merge(&fileCfg)
	return defaults, nil
}

// LoadFromDir loads dir/.env, then dir/upstream.yaml, then applies
// environment overrides.
func LoadFromDir(dir string) (*Config, error) {
	if err := LoadDotEnv(dir); err != nil {
		return nil, err
	}
	cfg, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv loads dir/.env into the process environment if it exists.
// Variables that are already set win.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Merge combines another config into this one, with other taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Search.FileScan {
		c.Search.FileScan = true
	}
	if len(other.Search.Include) > 0 {
		c.Search.Include = other.Search.Include
	}
	if len(other.Search.ExcludeDirs) > 0 {
		c.Search.ExcludeDirs = other.Search.ExcludeDirs
	}
	if other.Search.ScanWorkers != 0 {
		c.Search.ScanWorkers = other.Search.ScanWorkers
	}
	if other.Prune.Verbose {
		c.Prune.Verbose = true
	}
	if len(other.Backend.Command) > 0 {
		c.Backend.Command = other.Backend.Command
	}
	if other.Backend.LanguageID != "" {
		c.Backend.LanguageID = other.Backend.LanguageID
	}
	if other.Backend.InitTimeout != 0 {
		c.Backend.InitTimeout = other.Backend.InitTimeout
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Cache.Documents != 0 {
		c.Cache.Documents = other.Cache.Documents
	}
	if len(other.Layers) > 0 {
		c.Layers = other.Layers
	}
}

// ApplyEnv overrides settings from UPSTREAM_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvFileScan); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFileScan, err)
		}
		c.Search.FileScan = b
	}
	if v, ok := os.LookupEnv(EnvVerbosePrune); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVerbosePrune, err)
		}
		c.Prune.Verbose = b
	}
	if v, ok := os.LookupEnv(EnvLSPCommand); ok {
		c.Backend.Command = strings.Fields(v)
	}
	return nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Search.ScanWorkers < 1 {
		errs = append(errs, fmt.Errorf("search.scan_workers must be positive, got %d", c.Search.ScanWorkers))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Cache.Documents < 1 {
		errs = append(errs, fmt.Errorf("cache.documents must be positive, got %d", c.Cache.Documents))
	}
	for _, g := range c.Search.Include {
		if _, err := filepath.Match(g, ""); err != nil {
			errs = append(errs, fmt.Errorf("search.include: bad pattern %q", g))
		}
	}
	return errors.Join(errs...)
}

// IsExcludedDir checks if a directory should be skipped by the file scan.
func (c *Config) IsExcludedDir(dir string) bool {
	base := filepath.Base(dir)
	for _, excluded := range c.Search.ExcludeDirs {
		if base == excluded {
			return true
		}
	}
	return false
}

// GetLayerForFile returns the layer name for a source file, or empty string
// if no pattern matches. Layers are tried in name order.
func (c *Config) GetLayerForFile(path string) string {
	path = filepath.ToSlash(path)
	layers := make([]string, 0, len(c.Layers))
	for layer := range c.Layers {
		layers = append(layers, layer)
	}
	sort.Strings(layers)
	for _, layer := range layers {
		for _, pattern := range c.Layers[layer] {
			if matchLayerPattern(pattern, path) {
				return layer
			}
		}
	}
	return ""
}

// matchLayerPattern matches a file path against a layer pattern.
// Supports ** for matching any number of path components.
// Example: "**/Services/**" matches "src/Shop/Services/OrderService.cs"
func matchLayerPattern(pattern, path string) bool {
	if len(pattern) >= 4 && pattern[:2] == "**" && pattern[len(pattern)-2:] == "**" {
		middle := pattern[2 : len(pattern)-2] // e.g., "/Services/"
		if strings.Contains(path, middle) {
			return true
		}
		if len(middle) > 0 && middle[0] == '/' && strings.HasPrefix(path, middle[1:]) {
			return true
		}
		return false
	}

	matched, err := filepath.Match(pattern, path)
	if err == nil && matched {
		return true
	}
	// A bare file glob such as "*Controller.cs" matches the base name.
	if !strings.Contains(pattern, "/") {
		matched, err = filepath.Match(pattern, filepath.Base(path))
		return err == nil && matched
	}
	return false
}
