package disk

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/assetcache/internal/platform"
)

// DirectorySizeBytes sums the allocated size of every regular file below
// root whose path satisfies match (nil matches everything). Hidden files are
// skipped and hidden directories are not descended into; entries that cannot
// be stat'ed are ignored. ok is false when root itself cannot be enumerated.
func DirectorySizeBytes(root string, match func(path string) bool) (total int64, ok bool) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return 0, false
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if match != nil && !match(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += platform.Stat(info).AllocatedSize
		return nil
	})
	if err != nil {
		return 0, false
	}
	return total, true
}

// SizeBytes returns the size of the namespace's entries as an eviction scan
// would account it.
func (c *Cache) SizeBytes() int64 {
	var total int64
	for _, e := range scanDir(c.dir, c.apparent) {
		total += e.size
	}
	return total
}

// DirectoryEntrySize returns the size the filesystem reports for the
// namespace directory entry itself. ok is false when the directory does not
// exist.
func (c *Cache) DirectoryEntrySize() (int64, bool) {
	info, err := os.Stat(c.dir)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
