package assetcache

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/meigma/assetcache/disk"
	"github.com/meigma/assetcache/keyhash"
	"github.com/meigma/assetcache/memory"
)

// Option configures a Cache or, when passed to NewRegistry, every namespace
// the registry creates.
type Option func(*config) error

type config struct {
	prefix   string
	maxAge   time.Duration
	maxSize  int64
	dirPerm  os.FileMode
	filePerm os.FileMode
	hasher   keyhash.Hasher
	logger   *slog.Logger
	onError  ErrorHandler
	observer Observer
	now      func() time.Time
	apparent bool
	readers  int

	memMaxBytes   int64
	memMaxEntries int
}

func defaultConfig() config {
	return config{
		prefix:   DefaultDirPrefix,
		maxAge:   DefaultMaxCachePeriod,
		dirPerm:  0o700,
		filePerm: 0o600,
		hasher:   keyhash.Default,
		now:      time.Now,
	}
}

func (c *config) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return nil
}

func (c *config) memoryOptions() []memory.Option {
	return []memory.Option{
		memory.WithMaxBytes(c.memMaxBytes),
		memory.WithMaxEntries(c.memMaxEntries),
	}
}

func (c *config) diskOptions(namespace string) []disk.Option {
	opts := []disk.Option{
		disk.WithDirPerm(c.dirPerm),
		disk.WithFilePerm(c.filePerm),
		disk.WithHasher(c.hasher),
		disk.WithLogger(c.logger),
		disk.WithClock(c.now),
		disk.WithMaxAge(c.maxAge),
		disk.WithMaxSize(c.maxSize),
		disk.WithReadConcurrency(c.readers),
		disk.WithErrorHandler(func(op, path string, err error) {
			c.observer.ObserveIOError(namespace, op)
			if c.onError != nil {
				c.onError(namespace, op, path, err)
			}
		}),
	}
	if c.apparent {
		opts = append(opts, disk.WithApparentSizes())
	}
	return opts
}

// --- Eviction Options ---

// WithMaxCachePeriod sets how long an entry may go unaccessed before an
// eviction scan removes it. A negative value disables expiry.
// Defaults to DefaultMaxCachePeriod.
func WithMaxCachePeriod(d time.Duration) Option {
	return func(c *config) error {
		c.maxAge = d
		return nil
	}
}

// WithMaxDiskCacheSize sets the disk budget in bytes. When a scan finds the
// namespace over budget it removes least recently accessed entries until
// usage is below half the budget. Use 0 (the default) for no limit.
func WithMaxDiskCacheSize(n int64) Option {
	return func(c *config) error {
		if n < 0 {
			return errors.New("max disk cache size must be >= 0")
		}
		c.maxSize = n
		return nil
	}
}

// WithApparentSizes accounts disk usage by logical file length rather than
// allocated blocks.
func WithApparentSizes() Option {
	return func(c *config) error {
		c.apparent = true
		return nil
	}
}

// --- Memory Options ---

// WithMemoryLimits bounds the in-memory tier. Least recently used entries are
// dropped once either limit is exceeded. Zero disables a limit.
func WithMemoryLimits(maxBytes int64, maxEntries int) Option {
	return func(c *config) error {
		if maxBytes < 0 || maxEntries < 0 {
			return errors.New("memory limits must be >= 0")
		}
		c.memMaxBytes = maxBytes
		c.memMaxEntries = maxEntries
		return nil
	}
}

// --- Layout Options ---

// WithDirPrefix sets the prefix of namespace directory names created by a
// Registry. The directory for namespace n is "<prefix>.<n>".
// Use LegacyDirPrefix to open directories written by earlier releases.
func WithDirPrefix(prefix string) Option {
	return func(c *config) error {
		if prefix == "" {
			return errors.New("dir prefix is empty")
		}
		c.prefix = prefix
		return nil
	}
}

// WithDirPerm sets the permissions used when creating namespace directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *config) error {
		c.dirPerm = mode
		return nil
	}
}

// WithFilePerm sets the permissions of cache entry files.
func WithFilePerm(mode os.FileMode) Option {
	return func(c *config) error {
		c.filePerm = mode
		return nil
	}
}

// WithHasher sets how keys are mapped to file names.
func WithHasher(h keyhash.Hasher) Option {
	return func(c *config) error {
		if h == nil {
			return errors.New("hasher is nil")
		}
		c.hasher = h
		return nil
	}
}

// WithReadConcurrency bounds parallel file reads in ListAllBlobs.
func WithReadConcurrency(n int) Option {
	return func(c *config) error {
		c.readers = n
		return nil
	}
}

// --- Diagnostics Options ---

// WithLogger sets the logger for swallowed errors and eviction summaries.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithErrorHandler registers a sink for failures of background disk
// operations, which are otherwise only logged.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *config) error {
		c.onError = fn
		return nil
	}
}

// WithObserver registers hooks for lookups, writes, evictions and errors.
func WithObserver(o Observer) Option {
	return func(c *config) error {
		c.observer = o
		return nil
	}
}

// WithClock overrides the time source used for expiry and access times.
func WithClock(now func() time.Time) Option {
	return func(c *config) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		c.now = now
		return nil
	}
}
