package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/respkv/respkv-go/internal/bufpool"
	"github.com/respkv/respkv-go/internal/cache"
	"github.com/respkv/respkv-go/internal/connpool"
)

const namespace = "respkv"

// cacheSource is the subset of *cache.Cache a Registry needs to sample.
// Matching on the method rather than the concrete type keeps this package
// from caring whether a store has one cache or several.
type cacheSource interface {
	Stats() cache.Stats
}

// Registry holds every metric the server exposes and the private
// *prometheus.Registry they are registered against. Unlike the global
// default registry, a private one lets a test build its own Registry
// without colliding with another test's metric names.
type Registry struct {
	reg *prometheus.Registry

	commandCalls   *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec

	connectionsActive prometheus.Gauge
	workersActive     prometheus.Gauge

	cacheSize        *prometheus.GaugeVec
	cacheCapacity    *prometheus.GaugeVec
	cacheHits        *prometheus.GaugeVec
	cacheMisses      *prometheus.GaugeVec
	cacheEvictions   *prometheus.GaugeVec
	cacheExpirations *prometheus.GaugeVec
	cacheMemoryBytes *prometheus.GaugeVec

	bufpoolFree  *prometheus.GaugeVec
	connpoolFree prometheus.Gauge

	mu     sync.Mutex
	caches map[string]cacheSource
	bufs   *bufpool.Pool
	conns  *connpool.Pool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRegistry builds a Registry with every metric created and registered
// against a fresh, private *prometheus.Registry. It does not start the
// background sampling loop; call Start for that once caches and pools have
// been registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg:    prometheus.NewRegistry(),
		caches: make(map[string]cacheSource),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	r.commandCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "calls_total",
		Help:      "Total number of times each command has been dispatched.",
	}, []string{"command"})

	r.commandLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "latency_seconds",
		Help:      "Command handler execution latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	r.connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reactor",
		Name:      "connections_active",
		Help:      "Number of currently accepted client connections.",
	})

	r.workersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reactor",
		Name:      "workers_active",
		Help:      "Number of running reactor worker goroutines.",
	})

	r.cacheSize = r.newCacheGaugeVec("size", "Number of items currently held in the cache.")
	r.cacheCapacity = r.newCacheGaugeVec("capacity", "Current item capacity of the cache.")
	r.cacheHits = r.newCacheGaugeVec("hits", "Cumulative cache hits, sampled from the cache's own counters.")
	r.cacheMisses = r.newCacheGaugeVec("misses", "Cumulative cache misses, sampled from the cache's own counters.")
	r.cacheEvictions = r.newCacheGaugeVec("evictions", "Cumulative cache evictions, sampled from the cache's own counters.")
	r.cacheExpirations = r.newCacheGaugeVec("expirations", "Cumulative cache expirations, sampled from the cache's own counters.")
	r.cacheMemoryBytes = r.newCacheGaugeVec("estimated_memory_bytes", "Estimated bytes of key/value data held in the cache.")

	r.bufpoolFree = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bufpool",
		Name:      "free_buffers",
		Help:      "Number of buffers currently sitting in each size class's free list.",
	}, []string{"class"})

	r.connpoolFree = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connpool",
		Name:      "free_contexts",
		Help:      "Total number of per-connection contexts currently held across all pool shards.",
	})

	r.reg.MustRegister(
		r.commandCalls, r.commandLatency,
		r.connectionsActive, r.workersActive,
		r.cacheSize, r.cacheCapacity, r.cacheHits, r.cacheMisses, r.cacheEvictions, r.cacheExpirations, r.cacheMemoryBytes,
		r.bufpoolFree, r.connpoolFree,
	)
	return r
}

func (r *Registry) newCacheGaugeVec(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      name,
		Help:      help,
	}, []string{"cache"})
}

// RecordCommand records one command dispatch's latency. It is an addition
// alongside, not a replacement for, internal/command's own exact atomic
// stats: those back the INFO reply's exact call/usec_min/usec_max
// contract, which a histogram cannot reproduce since histograms bucket.
//
// RecordCommand is nil-safe so callers can hold an optional *Registry
// without a nil check at every call site.
func (r *Registry) RecordCommand(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.commandCalls.WithLabelValues(name).Inc()
	r.commandLatency.WithLabelValues(name).Observe(d.Seconds())
}

// SetConnectionsActive reports the reactor's current connection count.
func (r *Registry) SetConnectionsActive(n int) {
	if r == nil {
		return
	}
	r.connectionsActive.Set(float64(n))
}

// SetWorkersActive reports the reactor's current worker count.
func (r *Registry) SetWorkersActive(n int) {
	if r == nil {
		return
	}
	r.workersActive.Set(float64(n))
}

// RegisterCache adds c to the set of caches sampled on each tick of the
// background loop, labeled name. Calling RegisterCache again with the
// same name replaces the prior registration.
func (r *Registry) RegisterCache(name string, c cacheSource) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[name] = c
}

// RegisterPools records the buffer and connection pools to sample on each
// tick of the background loop.
func (r *Registry) RegisterPools(bufs *bufpool.Pool, conns *connpool.Pool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufs = bufs
	r.conns = conns
}

// sample reads every registered cache and pool's current stats and
// reflects them into the corresponding gauges. It is safe to call
// concurrently with RegisterCache/RegisterPools.
func (r *Registry) sample() {
	r.mu.Lock()
	caches := make(map[string]cacheSource, len(r.caches))
	for k, v := range r.caches {
		caches[k] = v
	}
	bufs, conns := r.bufs, r.conns
	r.mu.Unlock()

	for name, c := range caches {
		s := c.Stats()
		r.cacheSize.WithLabelValues(name).Set(float64(s.Size))
		r.cacheCapacity.WithLabelValues(name).Set(float64(s.Capacity))
		r.cacheHits.WithLabelValues(name).Set(float64(s.Hits))
		r.cacheMisses.WithLabelValues(name).Set(float64(s.Misses))
		r.cacheEvictions.WithLabelValues(name).Set(float64(s.Evictions))
		r.cacheExpirations.WithLabelValues(name).Set(float64(s.Expirations))
		r.cacheMemoryBytes.WithLabelValues(name).Set(float64(s.EstimatedMemoryBytes))
	}

	if bufs != nil {
		for _, class := range []bufpool.Class{bufpool.Class4K, bufpool.Class16K, bufpool.Class64K, bufpool.Class256K} {
			r.bufpoolFree.WithLabelValues(classLabel(class)).Set(float64(bufs.Stats(class)))
		}
	}
	if conns != nil {
		_, totalFree := conns.Stats()
		r.connpoolFree.Set(float64(totalFree))
	}
}

func classLabel(c bufpool.Class) string {
	switch c {
	case bufpool.Class4K:
		return "4k"
	case bufpool.Class16K:
		return "16k"
	case bufpool.Class64K:
		return "64k"
	case bufpool.Class256K:
		return "256k"
	default:
		return "unknown"
	}
}

// Start runs the background sampling loop until Stop is called, sampling
// every registered cache and pool once per interval.
func (r *Registry) Start(interval time.Duration) {
	if r == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sample()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop signals the background sampling loop to exit and waits for it.
func (r *Registry) Stop() {
	if r == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

// Handler returns an http.Handler serving this Registry's metrics in
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
