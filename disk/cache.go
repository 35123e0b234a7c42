// Package disk provides the durable tier of the asset cache.
//
// Each key is stored as one flat file directly under the namespace directory,
// named by the key's digest and holding the raw blob with no header. There is
// no index: the set of cached keys is only recoverable from the keys
// themselves, and ListAllBlobs returns contents, not names.
//
// Every mutation (write, remove, remove-all, touch, eviction) runs on the
// cache's serial lane in submission order. Reads run on the caller's
// goroutine and are not ordered against pending lane work; writes use
// temp-file-and-rename so a reader never observes a partially written blob.
package disk

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/assetcache/internal/lane"
	"github.com/meigma/assetcache/keyhash"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	// DefaultMaxAge is the default lifetime of an entry since its last access.
	DefaultMaxAge = 10 * 24 * time.Hour

	// tempPattern names in-flight writes. The leading dot hides them from
	// enumeration and eviction.
	tempPattern = ".tmp-*"
)

// Operation names passed to an ErrorHandler.
const (
	OpWrite     = "write"
	OpRemove    = "remove"
	OpRemoveAll = "remove_all"
	OpTouch     = "touch"
	OpEvict     = "evict"
)

// ErrorHandler receives failures from fire-and-forget operations. It is
// called on the lane goroutine and must not block.
type ErrorHandler func(op, path string, err error)

// Cache is the disk tier for a single namespace. It is safe for concurrent use.
type Cache struct {
	dir      string
	name     string
	dirPerm  os.FileMode
	filePerm os.FileMode
	hasher   keyhash.Hasher
	logger   *slog.Logger
	onError  ErrorHandler
	now      func() time.Time
	apparent bool
	readers  int

	maxAge  atomic.Int64 // nanoseconds; negative disables expiry
	maxSize atomic.Int64 // bytes; 0 = unlimited

	lane   *lane.Lane
	remove func(path string) error
}

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the permissions used when creating the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithFilePerm sets the permissions of cache entry files.
func WithFilePerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.filePerm = mode
	}
}

// WithHasher sets the key-to-filename digest. Defaults to keyhash.Default.
func WithHasher(h keyhash.Hasher) Option {
	return func(c *Cache) {
		c.hasher = h
	}
}

// WithLogger sets the logger used for swallowed errors and eviction summaries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithErrorHandler registers a sink for errors that fire-and-forget
// operations would otherwise only log.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *Cache) {
		c.onError = fn
	}
}

// WithClock overrides the time source used by eviction and Touch.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithMaxAge sets how long an entry may go unaccessed before eviction
// removes it. A negative value disables expiry. Defaults to DefaultMaxAge.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		c.maxAge.Store(int64(d))
	}
}

// WithMaxSize sets the disk budget in bytes. Use 0 to disable the limit.
func WithMaxSize(n int64) Option {
	return func(c *Cache) {
		c.maxSize.Store(n)
	}
}

// WithApparentSizes accounts entries by logical length instead of allocated
// blocks. Useful on filesystems that store small files inline.
func WithApparentSizes() Option {
	return func(c *Cache) {
		c.apparent = true
	}
}

// WithReadConcurrency bounds parallel file reads in ListAllBlobs.
// Values < 1 select GOMAXPROCS.
func WithReadConcurrency(n int) Option {
	return func(c *Cache) {
		c.readers = n
	}
}

// New creates a disk cache rooted at dir. The directory is created lazily by
// the first write, so New does not touch the filesystem.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:      filepath.Clean(dir),
		name:     filepath.Base(dir),
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
		hasher:   keyhash.Default,
		now:      time.Now,
		remove:   os.Remove,
	}
	c.maxAge.Store(int64(DefaultMaxAge))
	for _, opt := range opts {
		opt(c)
	}
	if c.hasher == nil {
		return nil, errors.New("hasher is nil")
	}
	if c.now == nil {
		return nil, errors.New("clock is nil")
	}
	if c.maxSize.Load() < 0 {
		return nil, errors.New("max size must be >= 0")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.readers < 1 {
		c.readers = runtime.GOMAXPROCS(0)
	}
	c.lane = lane.New(c.name, c.logger)
	return c, nil
}

// Dir returns the namespace directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file that holds key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, c.hasher.Sum(key))
}

// Read returns the blob stored for key. Missing and unreadable files are
// both reported as absent.
func (c *Cache) Read(key string) ([]byte, bool) {
	root, err := os.OpenRoot(c.dir)
	if err != nil {
		return nil, false
	}
	defer root.Close()

	data, err := root.ReadFile(c.hasher.Sum(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Exists reports whether a file for key is present.
func (c *Cache) Exists(key string) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// Write schedules blob to be stored for key, replacing any previous value.
// The blob is copied before Write returns.
func (c *Cache) Write(key string, blob []byte) {
	name := c.hasher.Sum(key)
	data := bytes.Clone(blob)
	if data == nil {
		data = []byte{}
	}
	c.submit(OpWrite, name, func() error {
		return c.writeFile(name, data)
	})
}

// Remove schedules deletion of the file for key.
func (c *Cache) Remove(key string) {
	path := c.Path(key)
	c.submit(OpRemove, path, func() error {
		if err := c.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// RemoveAll schedules deletion of the whole namespace directory.
func (c *Cache) RemoveAll() {
	c.submit(OpRemoveAll, c.dir, func() error {
		return os.RemoveAll(c.dir)
	})
}

// Touch schedules an access-time update for key so recency-based eviction
// sees reads even on noatime mounts. The modification time is preserved.
func (c *Cache) Touch(key string) {
	path := c.Path(key)
	c.submit(OpTouch, path, func() error {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return os.Chtimes(path, c.now(), info.ModTime())
	})
}

// ListAllBlobs returns the contents of every cached entry. The result is a
// snapshot in unspecified order; entries that cannot be read are skipped and
// an unreadable directory yields an empty result.
func (c *Cache) ListAllBlobs() [][]byte {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if isHidden(e.Name()) || e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	blobs := make([][]byte, len(names))
	ok := make([]bool, len(names))
	var g errgroup.Group
	g.SetLimit(c.readers)
	for i, name := range names {
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(c.dir, name)) //nolint:gosec // name comes from the cache directory listing
			if err != nil {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			blobs[i], ok[i] = data, true
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	out := blobs[:0]
	for i, b := range blobs {
		if ok[i] {
			out = append(out, b)
		}
	}
	return out
}

// MaxAge returns the current expiry setting.
func (c *Cache) MaxAge() time.Duration {
	return time.Duration(c.maxAge.Load())
}

// SetMaxAge changes the expiry setting. It takes effect at the next scan.
func (c *Cache) SetMaxAge(d time.Duration) {
	c.maxAge.Store(int64(d))
}

// MaxSize returns the current disk budget (0 = unlimited).
func (c *Cache) MaxSize() int64 {
	return c.maxSize.Load()
}

// SetMaxSize changes the disk budget. Negative values are treated as 0.
// It takes effect at the next scan.
func (c *Cache) SetMaxSize(n int64) {
	c.maxSize.Store(max(n, 0))
}

// Drain blocks until all previously scheduled operations have finished.
func (c *Cache) Drain() {
	c.lane.Drain()
}

// Pending returns the number of scheduled operations not yet finished.
func (c *Cache) Pending() int {
	return c.lane.Pending()
}

// Close runs any scheduled operations and stops the lane. Operations
// scheduled after Close are dropped.
func (c *Cache) Close() {
	c.lane.Close()
}

func (c *Cache) submit(op, path string, fn func() error) {
	ok := c.lane.Submit(func() {
		if err := fn(); err != nil {
			c.report(op, path, err)
		}
	})
	if !ok {
		c.report(op, path, errors.New("cache closed"))
	}
}

func (c *Cache) report(op, path string, err error) {
	c.logger.Warn("disk cache operation failed",
		slog.String("namespace", c.name),
		slog.String("op", op),
		slog.String("path", path),
		slog.Any("error", err))
	if c.onError != nil {
		c.onError(op, path, err)
	}
}

func (c *Cache) writeFile(name string, data []byte) error {
	if err := os.MkdirAll(c.dir, c.dirPerm); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	root, err := os.OpenRoot(c.dir)
	if err != nil {
		return fmt.Errorf("open cache root: %w", err)
	}
	defer root.Close()

	tmp, tmpPath, err := createTemp(root, tempPattern, c.filePerm)
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := root.Rename(tmpPath, name); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
