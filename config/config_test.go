package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/meigma/assetcache"
)

const sample = `
root: /var/cache/player
hash: md5
dir_prefix: t-osawa-009.mov.cache
log_level: debug
defaults:
  max_cache_period: 10d
  max_disk_cache_size: 2GB
namespaces:
  thumbnails:
    max_disk_cache_size: 200MB
    memory_max_entries: 500
    janitor_interval: 30m
  downloads:
    max_cache_period: never
    apparent_sizes: true
`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/cache/player", cfg.Root)
	assert.Equal(t, "md5", cfg.Hash)
	require.NotNil(t, cfg.Defaults.MaxCachePeriod)
	assert.Equal(t, Duration(240*time.Hour), *cfg.Defaults.MaxCachePeriod)
	require.NotNil(t, cfg.Defaults.MaxDiskCacheSize)
	assert.Equal(t, Size(2_000_000_000), *cfg.Defaults.MaxDiskCacheSize)

	thumbs := cfg.Namespaces["thumbnails"]
	require.NotNil(t, thumbs.MaxDiskCacheSize)
	assert.Equal(t, Size(200_000_000), *thumbs.MaxDiskCacheSize)
	require.NotNil(t, thumbs.MemoryMaxEntries)
	assert.Equal(t, 500, *thumbs.MemoryMaxEntries)
	assert.Nil(t, thumbs.MaxCachePeriod)

	downloads := cfg.Namespaces["downloads"]
	require.NotNil(t, downloads.MaxCachePeriod)
	assert.Equal(t, Never, *downloads.MaxCachePeriod)

	assert.Equal(t, 30*time.Minute, cfg.JanitorInterval("thumbnails"))
	assert.Equal(t, time.Duration(0), cfg.JanitorInterval("downloads"))
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Namespaces)
	assert.Empty(t, cfg.Defaults.Options())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("max_size: 1GB\n"))
	assert.Error(t, err)
}

func TestParseRejectsBadValues(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{
		"defaults:\n  max_disk_cache_size: lots\n",
		"defaults:\n  max_cache_period: soon\n",
		"defaults:\n  max_cache_period: [1, 2]\n",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "assetcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t-osawa-009.mov.cache", cfg.DirPrefix)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"ASSETCACHE_ROOT":                "/tmp/cache",
		"ASSETCACHE_HASH":                "sha512",
		"ASSETCACHE_MAX_CACHE_PERIOD":    "1h",
		"ASSETCACHE_MAX_DISK_CACHE_SIZE": "1000",
		"ASSETCACHE_LOG_LEVEL":           "",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "/tmp/cache", cfg.Root)
	assert.Equal(t, "sha512", cfg.Hash)
	assert.Equal(t, "info", cfg.LogLevel, "empty values do not override")
	assert.Equal(t, Duration(time.Hour), *cfg.Defaults.MaxCachePeriod)
	assert.Equal(t, Size(1000), *cfg.Defaults.MaxDiskCacheSize)
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "ASSETCACHE_MAX_DISK_CACHE_SIZE" {
			return "huge", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "ASSETCACHE_MAX_DISK_CACHE_SIZE")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	neg := -1
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown hash", Config{Hash: "crc32"}},
		{"bad level", Config{LogLevel: "loud"}},
		{"prefix separator", Config{DirPrefix: "a/b"}},
		{"negative entries", Config{Namespaces: map[string]Namespace{"x": {MemoryMaxEntries: &neg}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestRootDir(t *testing.T) {
	t.Parallel()

	cfg := &Config{Root: "/srv/cache/"}
	dir, err := cfg.RootDir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/cache", dir)
}

func TestOptionsBuildRegistry(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	opts, err := cfg.RegistryOptions()
	require.NoError(t, err)

	reg, err := assetcache.NewRegistry(t.TempDir(), opts...)
	require.NoError(t, err)
	defer reg.Close()

	thumbs, err := reg.Namespace("thumbnails", cfg.NamespaceOptions("thumbnails")...)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(reg.Root(), "t-osawa-009.mov.cache.thumbnails"), thumbs.Dir())
	assert.Equal(t, int64(200_000_000), thumbs.MaxDiskCacheSize())
	assert.Equal(t, 240*time.Hour, thumbs.MaxCachePeriod())

	downloads, err := reg.Namespace("downloads", cfg.NamespaceOptions("downloads")...)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), downloads.MaxCachePeriod())
	assert.Equal(t, int64(2_000_000_000), downloads.MaxDiskCacheSize())

	assert.Nil(t, cfg.NamespaceOptions("unconfigured"))
}

func TestDurationAndSizeRoundTrip(t *testing.T) {
	t.Parallel()

	d := Never
	out, err := yaml.Marshal(map[string]Duration{"period": d})
	require.NoError(t, err)
	assert.Equal(t, "period: never\n", string(out))

	var back map[string]Duration
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, Never, back["period"])

	assert.Equal(t, "300B", Size(300).String())
	assert.Equal(t, "1h30m0s", Duration(90*time.Minute).String())
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Duration
		err  bool
	}{
		{"never", Never, false},
		{"NEVER", Never, false},
		{"10d", Duration(240 * time.Hour), false},
		{"90s", Duration(90 * time.Second), false},
		{"1.5d", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
