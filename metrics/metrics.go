// Package metrics exports asset cache events to Prometheus.
//
// A Collector implements assetcache.Observer; pass it with
// assetcache.WithObserver and register it with a prometheus.Registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/assetcache"
)

// DefaultNamespace is the metric name prefix.
const DefaultNamespace = "assetcache"

var _ assetcache.Observer = (*Collector)(nil)

// Collector records cache events as Prometheus metrics, labelled by cache
// namespace. It is safe for concurrent use.
type Collector struct {
	lookups      *prometheus.CounterVec
	writes       *prometheus.CounterVec
	writtenBytes *prometheus.CounterVec
	deletes      *prometheus.CounterVec
	evictedFiles *prometheus.CounterVec
	evictedBytes *prometheus.CounterVec
	ioErrors     *prometheus.CounterVec
	diskUsage    *prometheus.GaugeVec
}

// New creates a collector whose metric names start with prefix
// (DefaultNamespace when empty).
func New(prefix string) *Collector {
	if prefix == "" {
		prefix = DefaultNamespace
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      name,
			Help:      help,
		}, append([]string{"cache"}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      name,
			Help:      help,
		}, []string{"cache"})
	}
	return &Collector{
		lookups:      counter("lookups_total", "Cache reads by the tier that served them.", "result"),
		writes:       counter("writes_total", "Blobs written."),
		writtenBytes: counter("written_bytes_total", "Bytes written."),
		deletes:      counter("deletes_total", "Keys deleted."),
		evictedFiles: counter("evicted_files_total", "Entries removed by eviction scans.", "reason"),
		evictedBytes: counter("evicted_bytes_total", "Bytes removed by eviction scans.", "reason"),
		ioErrors:     counter("io_errors_total", "Failed background disk operations.", "op"),
		diskUsage:    gauge("disk_usage_bytes", "Disk usage last measured for the cache."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.lookups, c.writes, c.writtenBytes, c.deletes,
		c.evictedFiles, c.evictedBytes, c.ioErrors, c.diskUsage,
	}
}

// ObserveLookup counts a read served by result ("memory", "disk" or "miss").
func (c *Collector) ObserveLookup(namespace, result string) {
	c.lookups.WithLabelValues(namespace, result).Inc()
}

// ObserveWrite counts a write of n bytes.
func (c *Collector) ObserveWrite(namespace string, n int) {
	c.writes.WithLabelValues(namespace).Inc()
	c.writtenBytes.WithLabelValues(namespace).Add(float64(n))
}

// ObserveDelete counts a deleted key.
func (c *Collector) ObserveDelete(namespace string) {
	c.deletes.WithLabelValues(namespace).Inc()
}

// ObserveEviction counts entries removed by one phase of a scan.
func (c *Collector) ObserveEviction(namespace, reason string, files int, n int64) {
	c.evictedFiles.WithLabelValues(namespace, reason).Add(float64(files))
	c.evictedBytes.WithLabelValues(namespace, reason).Add(float64(n))
}

// ObserveIOError counts a failed background disk operation.
func (c *Collector) ObserveIOError(namespace, op string) {
	c.ioErrors.WithLabelValues(namespace, op).Inc()
}

// ObserveDiskUsage records the latest disk usage measurement.
func (c *Collector) ObserveDiskUsage(namespace string, n int64) {
	c.diskUsage.WithLabelValues(namespace).Set(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
