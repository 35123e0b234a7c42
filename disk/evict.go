package disk

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/meigma/assetcache/internal/platform"
)

// Policy bounds what an eviction scan keeps.
type Policy struct {
	// MaxAge is the longest an entry may go unaccessed. Negative disables
	// expiry.
	MaxAge time.Duration
	// MaxSize is the directory budget in bytes. 0 disables the size phase.
	// When exceeded, entries are removed oldest-access first until usage is
	// below MaxSize/2.
	MaxSize int64
	// Now is the reference time for expiry.
	Now time.Time
	// ApparentSizes accounts logical length instead of allocated blocks.
	ApparentSizes bool
}

// EvictionResult summarizes one scan.
type EvictionResult struct {
	Scanned        int      // entries considered
	Expired        []string // removed by the expiry phase
	Evicted        []string // removed by the size phase
	ExpiredBytes   int64
	EvictedBytes   int64
	RemainingBytes int64 // tally after the scan, counting failed removals as removed
	Failures       int   // removals that returned an error
}

// Removed returns the number of entries removed by either phase.
func (r EvictionResult) Removed() int {
	return len(r.Expired) + len(r.Evicted)
}

type scanEntry struct {
	path       string
	size       int64
	accessTime time.Time
}

// ScanAndEvict applies p to the flat cache directory dir. Removal failures
// are ignored. An unreadable directory is treated as empty.
func ScanAndEvict(dir string, p Policy) EvictionResult {
	return scanAndEvict(dir, p, os.Remove, nil)
}

func scanAndEvict(dir string, p Policy, remove func(string) error, report ErrorHandler) EvictionResult {
	var res EvictionResult

	del := func(path string) {
		if err := remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Failures++
			if report != nil {
				report(OpEvict, path, err)
			}
		}
	}

	entries := scanDir(dir, p.ApparentSizes)
	res.Scanned = len(entries)

	// Expiry phase.
	live := entries[:0]
	var total int64
	if p.MaxAge >= 0 {
		cutoff := p.Now.Add(-p.MaxAge)
		for _, e := range entries {
			if e.accessTime.Before(cutoff) {
				del(e.path)
				res.Expired = append(res.Expired, e.path)
				res.ExpiredBytes += e.size
				continue
			}
			live = append(live, e)
			total += e.size
		}
	} else {
		for _, e := range entries {
			total += e.size
		}
		live = entries
	}

	// Size phase. A failed removal is still subtracted from the tally, so
	// the scan may stop with more on disk than the tally shows.
	if p.MaxSize > 0 && total > p.MaxSize {
		target := p.MaxSize / 2
		sort.Slice(live, func(i, j int) bool {
			if live[i].accessTime.Equal(live[j].accessTime) {
				return live[i].path < live[j].path
			}
			return live[i].accessTime.Before(live[j].accessTime)
		})
		for _, e := range live {
			del(e.path)
			res.Evicted = append(res.Evicted, e.path)
			res.EvictedBytes += e.size
			total -= e.size
			if total < target {
				break
			}
		}
	}

	res.RemainingBytes = total
	return res
}

func scanDir(dir string, apparent bool) []scanEntry {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]scanEntry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if isHidden(d.Name()) || d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		st := platform.Stat(info)
		size := st.AllocatedSize
		if apparent {
			size = st.Size
		}
		out = append(out, scanEntry{
			path:       filepath.Join(dir, d.Name()),
			size:       size,
			accessTime: st.AccessTime,
		})
	}
	return out
}

// Evict schedules an eviction scan using the cache's current MaxAge and
// MaxSize, read when the scan runs. The returned channel receives the result
// once and is then closed.
func (c *Cache) Evict() <-chan EvictionResult {
	done := make(chan EvictionResult, 1)
	ok := c.lane.Submit(func() {
		defer close(done)
		p := Policy{
			MaxAge:        c.MaxAge(),
			MaxSize:       c.MaxSize(),
			Now:           c.now(),
			ApparentSizes: c.apparent,
		}
		res := scanAndEvict(c.dir, p, c.remove, c.report)
		c.logger.Debug("eviction scan finished",
			slog.String("namespace", c.name),
			slog.Int("scanned", res.Scanned),
			slog.Int("expired", len(res.Expired)),
			slog.Int("evicted", len(res.Evicted)),
			slog.Int64("remaining_bytes", res.RemainingBytes),
			slog.Int("failures", res.Failures))
		done <- res
	})
	if !ok {
		c.report(OpEvict, c.dir, errors.New("cache closed"))
		close(done)
	}
	return done
}
