// Package assetcache is an embedded two-tier cache for small binary blobs
// keyed by opaque strings, such as bookmarks to downloaded media keyed by
// asset title.
//
// Each namespace keeps a memory tier in front of a flat directory of files,
// one per key, named by a digest of the key. Disk mutations for a namespace
// run in order on a single background lane, so Write and Delete return
// immediately and never report errors; failures go to the logger and to an
// optional ErrorHandler.
//
// # Quick Start
//
// Open a registry and a namespace:
//
//	reg, err := assetcache.NewRegistry("/var/cache/player",
//	    assetcache.WithMaxDiskCacheSize(2<<30),
//	)
//	if err != nil {
//	    return err
//	}
//	defer reg.Close()
//
//	c, err := reg.Namespace("default")
//	if err != nil {
//	    return err
//	}
//	c.Write("bipbop_4x3_variant", bookmark)
//	data, ok := c.Read("bipbop_4x3_variant")
//
// Default returns the "default" namespace of a process-wide registry rooted
// in the user's cache directory.
//
// # Eviction
//
// Nothing is evicted until the host asks. Call TriggerEvictionScan when the
// process is about to be suspended or terminated, or StartJanitor for a
// periodic scan. A scan first removes entries not accessed within the max
// cache period, then, if the namespace is still over its disk budget,
// removes least recently accessed entries until usage is below half the
// budget.
//
// # Layout
//
// A namespace named n lives in "<root>/<prefix>.<n>". Files hold the raw
// blob with no header, and there is no index: keys cannot be recovered from
// the directory, only blobs (see ListAllBlobs). Use WithDirPrefix and
// WithHasher to read directories created by earlier releases.
package assetcache
