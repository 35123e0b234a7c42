// Package config loads asset cache settings from YAML files and the
// environment and turns them into assetcache options.
//
// Sizes accept human-readable values ("512MB", "1.5GB") or plain byte counts.
// Durations accept Go duration strings, a whole number of days ("10d"), or
// "never" to disable expiry.
//
//	root: /var/cache/player
//	hash: sha256
//	defaults:
//	  max_cache_period: 10d
//	  max_disk_cache_size: 2GB
//	namespaces:
//	  thumbnails:
//	    max_disk_cache_size: 200MB
//	    memory_max_entries: 500
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/assetcache"
	"github.com/meigma/assetcache/keyhash"
)

// EnvPrefix prefixes the environment variables read by ApplyEnv.
const EnvPrefix = "ASSETCACHE_"

// Config is the file representation of a cache registry.
type Config struct {
	// Root holds the namespace directories. Empty selects the user cache dir.
	Root string `yaml:"root"`
	// DirPrefix overrides the namespace directory prefix.
	DirPrefix string `yaml:"dir_prefix"`
	// Hash names the key digest: sha256 (default), sha384, sha512 or md5.
	Hash string `yaml:"hash"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// MetricsAddr, when set, is where the CLI serves Prometheus metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	Defaults   Namespace            `yaml:"defaults"`
	Namespaces map[string]Namespace `yaml:"namespaces"`
}

// Namespace holds per-namespace settings. Unset fields inherit from
// Config.Defaults and then from the library defaults.
type Namespace struct {
	MaxCachePeriod   *Duration `yaml:"max_cache_period"`
	MaxDiskCacheSize *Size     `yaml:"max_disk_cache_size"`
	MemoryMaxSize    *Size     `yaml:"memory_max_size"`
	MemoryMaxEntries *int      `yaml:"memory_max_entries"`
	JanitorInterval  *Duration `yaml:"janitor_interval"`
	ApparentSizes    *bool     `yaml:"apparent_sizes"`
}

// Default returns a configuration with every field at its library default.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		Namespaces: map[string]Namespace{},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if cfg.Namespaces == nil {
		cfg.Namespaces = map[string]Namespace{}
	}
	return cfg, nil
}

// ApplyEnv overrides top-level settings and defaults from ASSETCACHE_*
// environment variables: ROOT, DIR_PREFIX, HASH, LOG_LEVEL, METRICS_ADDR,
// MAX_CACHE_PERIOD and MAX_DISK_CACHE_SIZE.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("ROOT", &c.Root)
	str("DIR_PREFIX", &c.DirPrefix)
	str("HASH", &c.Hash)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup(EnvPrefix + "MAX_CACHE_PERIOD"); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sMAX_CACHE_PERIOD: %w", EnvPrefix, err)
		}
		c.Defaults.MaxCachePeriod = &d
	}
	if v, ok := lookup(EnvPrefix + "MAX_DISK_CACHE_SIZE"); ok && v != "" {
		s, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("%sMAX_DISK_CACHE_SIZE: %w", EnvPrefix, err)
		}
		c.Defaults.MaxDiskCacheSize = &s
	}
	return nil
}

// Validate checks that the configuration can be turned into options.
func (c *Config) Validate() error {
	if _, err := keyhash.Parse(c.Hash); err != nil {
		return fmt.Errorf("hash %q: %w", c.Hash, err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if strings.ContainsAny(c.DirPrefix, `/\`) {
		return fmt.Errorf("dir_prefix %q must not contain a path separator", c.DirPrefix)
	}
	if err := c.Defaults.validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for name, ns := range c.Namespaces {
		if err := ns.validate(); err != nil {
			return fmt.Errorf("namespace %q: %w", name, err)
		}
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	name := c.LogLevel
	if name == "" {
		name = "info"
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// RootDir returns Root, or the user cache directory when Root is empty.
func (c *Config) RootDir() (string, error) {
	if c.Root != "" {
		return filepath.Clean(c.Root), nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return dir, nil
}

// RegistryOptions returns the options shared by every namespace: layout,
// hashing, and the defaults section.
func (c *Config) RegistryOptions() ([]assetcache.Option, error) {
	h, err := keyhash.Parse(c.Hash)
	if err != nil {
		return nil, fmt.Errorf("hash %q: %w", c.Hash, err)
	}
	opts := []assetcache.Option{assetcache.WithHasher(h)}
	if c.DirPrefix != "" {
		opts = append(opts, assetcache.WithDirPrefix(c.DirPrefix))
	}
	return append(opts, c.Defaults.Options()...), nil
}

// NamespaceOptions returns the overrides configured for name, if any.
func (c *Config) NamespaceOptions(name string) []assetcache.Option {
	ns, ok := c.Namespaces[name]
	if !ok {
		return nil
	}
	return ns.Options()
}

// JanitorInterval returns the janitor period for name. Zero means no janitor.
func (c *Config) JanitorInterval(name string) time.Duration {
	if ns, ok := c.Namespaces[name]; ok && ns.JanitorInterval != nil {
		return time.Duration(*ns.JanitorInterval)
	}
	if c.Defaults.JanitorInterval != nil {
		return time.Duration(*c.Defaults.JanitorInterval)
	}
	return 0
}

// Options converts the fields that are set into assetcache options.
func (n Namespace) Options() []assetcache.Option {
	var opts []assetcache.Option
	if n.MaxCachePeriod != nil {
		opts = append(opts, assetcache.WithMaxCachePeriod(time.Duration(*n.MaxCachePeriod)))
	}
	if n.MaxDiskCacheSize != nil {
		opts = append(opts, assetcache.WithMaxDiskCacheSize(int64(*n.MaxDiskCacheSize)))
	}
	if n.MemoryMaxSize != nil || n.MemoryMaxEntries != nil {
		var maxBytes int64
		var maxEntries int
		if n.MemoryMaxSize != nil {
			maxBytes = int64(*n.MemoryMaxSize)
		}
		if n.MemoryMaxEntries != nil {
			maxEntries = *n.MemoryMaxEntries
		}
		opts = append(opts, assetcache.WithMemoryLimits(maxBytes, maxEntries))
	}
	if n.ApparentSizes != nil && *n.ApparentSizes {
		opts = append(opts, assetcache.WithApparentSizes())
	}
	return opts
}

func (n Namespace) validate() error {
	if n.MaxDiskCacheSize != nil && *n.MaxDiskCacheSize < 0 {
		return errors.New("max_disk_cache_size must be >= 0")
	}
	if n.MemoryMaxSize != nil && *n.MemoryMaxSize < 0 {
		return errors.New("memory_max_size must be >= 0")
	}
	if n.MemoryMaxEntries != nil && *n.MemoryMaxEntries < 0 {
		return errors.New("memory_max_entries must be >= 0")
	}
	if n.JanitorInterval != nil && *n.JanitorInterval < 0 {
		return errors.New("janitor_interval must be >= 0")
	}
	return nil
}
