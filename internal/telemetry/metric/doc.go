// Package metric provides Prometheus metrics for the server.
//
// prometheus.go builds a Registry backed by a private *prometheus.Registry
// and exposes it over HTTP in the standard exposition format. Metrics
// cover:
//
//   - Per-command call counts and latency histograms (a Prometheus-shaped
//     complement to internal/command's exact atomic stats, which still
//     back the INFO reply verbatim)
//   - Cache size, capacity, hit/miss/eviction/expiration counts, sampled
//     periodically from internal/cache.Cache.Stats
//   - Buffer pool and connection pool free-list occupancy, sampled from
//     internal/bufpool and internal/connpool
//   - Reactor connection and worker gauges
//
// Metrics are exposed at /metrics in Prometheus text format via Handler.
package metric
