// Package library tracks downloaded media through the asset cache.
//
// Each downloaded asset is recorded under its title as a small bookmark blob
// pointing at the media on disk. The cache owns the bookmarks; the library
// owns the media they point to, so deleting an asset removes both.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/assetcache/disk"
)

// FragmentMarker identifies downloaded media segments when sizing the library.
const FragmentMarker = ".frag"

// ErrNotFound is returned when a title has no live bookmark.
var ErrNotFound = errors.New("asset not found")

// Store is the subset of *assetcache.Cache the library needs.
type Store interface {
	Write(key string, blob []byte)
	ReadFromDisk(key string) ([]byte, bool)
	Delete(key string)
	DeleteAll()
	ListAllBlobs() [][]byte
}

// Library records, locates and removes downloaded assets.
type Library struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	remove func(path string) error
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger for media that could not be removed.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// WithClock overrides the time recorded in new bookmarks.
func WithClock(now func() time.Time) Option {
	return func(l *Library) {
		l.now = now
	}
}

// New returns a library backed by store.
func New(store Store, opts ...Option) (*Library, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	l := &Library{
		store:  store,
		now:    time.Now,
		remove: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l, nil
}

// Record stores a bookmark for the media at location under title,
// replacing any earlier one.
func (l *Library) Record(title, location string) error {
	b, err := NewBookmark(location, l.now())
	if err != nil {
		return err
	}
	blob, err := b.Encode()
	if err != nil {
		return fmt.Errorf("encode bookmark: %w", err)
	}
	l.store.Write(title, blob)
	return nil
}

// Locate returns the media location recorded for title. It reports false
// when there is no bookmark, the bookmark is unreadable, or the media is gone.
func (l *Library) Locate(title string) (string, bool) {
	blob, ok := l.store.ReadFromDisk(title)
	if !ok {
		return "", false
	}
	b, err := DecodeBookmark(blob)
	if err != nil {
		return "", false
	}
	return b.Resolve()
}

// Delete removes the media recorded for title and then its bookmark. If the
// media cannot be removed the bookmark is kept.
func (l *Library) Delete(title string) error {
	loc, ok := l.Locate(title)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	if err := l.remove(loc); err != nil {
		return fmt.Errorf("remove media for %s: %w", title, err)
	}
	l.store.Delete(title)
	return nil
}

// RemoveAll removes the media behind every live bookmark and then clears
// the store. It returns the number of locations removed; removal failures
// are joined into the error but do not stop the sweep.
func (l *Library) RemoveAll() (int, error) {
	var errs []error
	removed := 0
	for _, loc := range l.locations() {
		if err := l.remove(loc); err != nil {
			l.logger.Warn("failed to remove media",
				slog.String("path", loc),
				slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		removed++
	}
	l.store.DeleteAll()
	return removed, errors.Join(errs...)
}

// Size returns the allocated size of the media fragments under every live
// bookmark.
func (l *Library) Size() int64 {
	var total atomic.Int64
	var g errgroup.Group
	g.SetLimit(4)
	for _, loc := range l.locations() {
		g.Go(func() error {
			n, ok := disk.DirectorySizeBytes(loc, isFragment)
			if ok {
				total.Add(n)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors
	return total.Load()
}

// SizeString returns Size formatted for display.
func (l *Library) SizeString() string {
	return units.HumanSize(float64(l.Size()))
}

func (l *Library) locations() []string {
	blobs := l.store.ListAllBlobs()
	out := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		b, err := DecodeBookmark(blob)
		if err != nil {
			continue
		}
		if loc, ok := b.Resolve(); ok {
			out = append(out, loc)
		}
	}
	return out
}

func isFragment(path string) bool {
	return strings.Contains(path, FragmentMarker)
}
