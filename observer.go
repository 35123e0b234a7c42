package assetcache

// Lookup results passed to Observer.ObserveLookup.
const (
	LookupMemory = "memory"
	LookupDisk   = "disk"
	LookupMiss   = "miss"
)

// Eviction reasons passed to Observer.ObserveEviction.
const (
	EvictExpired  = "expired"
	EvictCapacity = "capacity"
)

// Observer receives cache events. Implementations must be safe for
// concurrent use and must not block; see the metrics package for a
// Prometheus implementation.
type Observer interface {
	ObserveLookup(namespace, result string)
	ObserveWrite(namespace string, bytes int)
	ObserveDelete(namespace string)
	ObserveEviction(namespace, reason string, files int, bytes int64)
	ObserveIOError(namespace, op string)
	ObserveDiskUsage(namespace string, bytes int64)
}

type nopObserver struct{}

func (nopObserver) ObserveLookup(string, string) {}
func (nopObserver) ObserveWrite(string, int) {}
func (nopObserver) ObserveDelete(string) {}
func (nopObserver) ObserveEviction(string, string, int, int64) {}
func (nopObserver) ObserveIOError(string, string) {}
func (nopObserver) ObserveDiskUsage(string, int64) {}
