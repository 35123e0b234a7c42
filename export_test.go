package assetcache

// Drain blocks until the namespace's pending disk work has finished.
func (c *Cache) Drain() {
	c.disk.Drain()
}

// WrapDiskRead replaces the disk read used by Read. Call it before the cache
// is shared between goroutines.
func (c *Cache) WrapDiskRead(wrap func(next func(string) ([]byte, bool)) func(string) ([]byte, bool)) {
	c.readDisk = wrap(c.readDisk)
}
