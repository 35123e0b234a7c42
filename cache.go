package assetcache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/assetcache/disk"
	"github.com/meigma/assetcache/memory"
)

// DefaultMaxCachePeriod is how long an entry may go unaccessed before an
// eviction scan removes it.
const DefaultMaxCachePeriod = disk.DefaultMaxAge

// Cache is one namespace: a memory tier in front of a disk directory.
//
// Writes and deletes update memory immediately and schedule the disk side on
// the namespace's I/O lane. Reads check memory first and fall back to disk,
// promoting disk hits into memory. A Cache is safe for concurrent use.
type Cache struct {
	name     string
	mem      *memory.Cache
	disk     *disk.Cache
	loads    singleflight.Group
	readDisk func(key string) ([]byte, bool)
	logger   *slog.Logger
	observer Observer
}

// New opens a cache stored directly in dir. Most callers should obtain
// caches from a Registry, which derives dir from the namespace name.
func New(dir string, opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	if err := cfg.apply(opts); err != nil {
		return nil, err
	}
	return newCache(filepath.Base(filepath.Clean(dir)), dir, &cfg)
}

func newCache(name, dir string, cfg *config) (*Cache, error) {
	mem, err := memory.New(cfg.memoryOptions()...)
	if err != nil {
		return nil, fmt.Errorf("memory tier: %w", err)
	}
	d, err := disk.New(dir, cfg.diskOptions(name)...)
	if err != nil {
		return nil, fmt.Errorf("disk tier: %w", err)
	}
	return &Cache{
		name:     name,
		mem:      mem,
		disk:     d,
		readDisk: d.Read,
		logger:   cfg.logger.With(slog.String("namespace", name)),
		observer: cfg.observer,
	}, nil
}

// Name returns the namespace name.
func (c *Cache) Name() string {
	return c.name
}

// Dir returns the namespace directory.
func (c *Cache) Dir() string {
	return c.disk.Dir()
}

// Write stores blob for key, replacing any previous value. The memory tier
// is updated before Write returns; the disk write happens in the background
// and its failures are only reported to the error handler. blob is copied.
func (c *Cache) Write(key string, blob []byte) {
	c.mem.Set(key, bytes.Clone(blob))
	c.disk.Write(key, blob)
	c.observer.ObserveWrite(c.name, len(blob))
}

// Read returns the blob for key from memory or, failing that, from disk.
// A disk hit is promoted into memory and refreshes the entry's access time,
// unless the key was written or deleted while the disk read was in flight.
// Concurrent misses for the same key share one disk read.
//
// The returned slice may be shared with the cache and must not be modified.
func (c *Cache) Read(key string) ([]byte, bool) {
	if b, ok := c.mem.Get(key); ok {
		c.observer.ObserveLookup(c.name, LookupMemory)
		return b, true
	}
	v, _, _ := c.loads.Do(key, func() (any, error) {
		t, b, ok := c.mem.Reserve(key)
		if ok {
			return lookup{blob: b, tier: LookupMemory}, nil
		}
		b, ok = c.readDisk(key)
		if !ok {
			c.mem.Release(t)
			return lookup{tier: LookupMiss}, nil
		}
		if c.mem.Fill(t, b) {
			c.disk.Touch(key)
		}
		return lookup{blob: b, tier: LookupDisk}, nil
	})
	res := v.(lookup)
	c.observer.ObserveLookup(c.name, res.tier)
	return res.blob, res.tier != LookupMiss
}

type lookup struct {
	blob []byte
	tier string
}

// ReadFromDisk returns the blob for key from the disk tier only. Memory is
// neither consulted nor populated.
func (c *Cache) ReadFromDisk(key string) ([]byte, bool) {
	return c.disk.Read(key)
}

// HasDataOnDisk reports whether a file for key is currently on disk.
// Pending background writes are not visible.
func (c *Cache) HasDataOnDisk(key string) bool {
	return c.disk.Exists(key)
}

// HasDataInMemory reports whether key is held by the memory tier.
func (c *Cache) HasDataInMemory(key string) bool {
	return c.mem.Contains(key)
}

// Delete removes key from memory immediately and from disk in the background.
func (c *Cache) Delete(key string) {
	c.mem.Remove(key)
	c.disk.Remove(key)
	c.observer.ObserveDelete(c.name)
}

// DeleteAll clears memory and schedules removal of the whole namespace
// directory. The directory is recreated by the next write.
func (c *Cache) DeleteAll() {
	c.mem.RemoveAll()
	c.disk.RemoveAll()
}

// HandleMemoryWarning drops everything held in memory. Disk is untouched, so
// subsequent reads fall back to it.
func (c *Cache) HandleMemoryWarning() {
	freed := c.mem.Purge()
	c.logger.Info("memory tier purged", slog.Int64("bytes", freed))
}

// ListAllBlobs returns the contents of every entry on disk, in no particular
// order. Keys are not recoverable from the result.
func (c *Cache) ListAllBlobs() [][]byte {
	return c.disk.ListAllBlobs()
}

// CurrentDiskUsage returns the size the filesystem reports for the namespace
// directory itself, formatted for display (for example "4.096kB"). This is
// the directory entry's size, not the sum of its files; see DiskUsageBytes
// for that. It reports false if the directory does not exist.
func (c *Cache) CurrentDiskUsage() (string, bool) {
	n, ok := c.disk.DirectoryEntrySize()
	if !ok {
		return "", false
	}
	return units.HumanSize(float64(n)), true
}

// DiskUsageBytes returns the allocated size of all entries on disk.
func (c *Cache) DiskUsageBytes() int64 {
	n := c.disk.SizeBytes()
	c.observer.ObserveDiskUsage(c.name, n)
	return n
}

// MaxCachePeriod returns the current expiry setting.
func (c *Cache) MaxCachePeriod() time.Duration {
	return c.disk.MaxAge()
}

// SetMaxCachePeriod changes the expiry setting. It applies from the next
// eviction scan; a negative value disables expiry.
func (c *Cache) SetMaxCachePeriod(d time.Duration) {
	c.disk.SetMaxAge(d)
}

// MaxDiskCacheSize returns the current disk budget in bytes (0 = unlimited).
func (c *Cache) MaxDiskCacheSize() int64 {
	return c.disk.MaxSize()
}

// SetMaxDiskCacheSize changes the disk budget. It applies from the next
// eviction scan.
func (c *Cache) SetMaxDiskCacheSize(n int64) {
	c.disk.SetMaxSize(n)
}

// TriggerEvictionScan schedules an eviction scan behind any pending disk
// work and returns a channel that is closed once the scan has finished.
// Hosts call this when the process is about to be suspended or terminated.
func (c *Cache) TriggerEvictionScan() <-chan struct{} {
	results := c.disk.Evict()
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, ok := <-results
		if !ok {
			return
		}
		c.recordEviction(res)
	}()
	return done
}

func (c *Cache) recordEviction(res disk.EvictionResult) {
	if n := len(res.Expired); n > 0 {
		c.observer.ObserveEviction(c.name, EvictExpired, n, res.ExpiredBytes)
	}
	if n := len(res.Evicted); n > 0 {
		c.observer.ObserveEviction(c.name, EvictCapacity, n, res.EvictedBytes)
	}
	c.observer.ObserveDiskUsage(c.name, res.RemainingBytes)
	if res.Removed() > 0 {
		c.logger.Info("evicted cache entries",
			slog.Int("expired", len(res.Expired)),
			slog.Int("evicted", len(res.Evicted)),
			slog.String("freed", units.HumanSize(float64(res.ExpiredBytes+res.EvictedBytes))),
			slog.Int("failures", res.Failures))
	}
}

// StartJanitor runs an eviction scan every interval until ctx is done. A
// scan is not started while the previous one is still running. The returned
// channel is closed when the janitor has stopped.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) <-chan struct{} {
	stopped := make(chan struct{})
	if interval <= 0 {
		close(stopped)
		return stopped
	}
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			select {
			case <-ctx.Done():
				return
			case <-c.TriggerEvictionScan():
			}
		}
	}()
	return stopped
}

// Close runs any pending disk work and stops the I/O lane. Later writes and
// deletes still update memory but are not persisted.
func (c *Cache) Close() {
	c.disk.Close()
}
