// Package config defines the server configuration structure.
package config

import "time"

// Spec is the root configuration for respkv-server, mirroring spec.md §6's
// four key groups.
type Spec struct {
	Server ServerSection `koanf:"server"`
	Pool   PoolSection   `koanf:"pool"`
	Store  StoreSection  `koanf:"store"`
	Cache  CacheSection  `koanf:"cache"`
	Log    LogSection    `koanf:"log"`
}

// ServerSection configures the listening socket and per-connection limits.
type ServerSection struct {
	Host              string `koanf:"host"`
	Port              int    `koanf:"port"`
	MaxEvents         int    `koanf:"max_events"`
	InitialBufferSize int    `koanf:"initial_buffer_size"`
	MaxBufferSize     int    `koanf:"max_buffer_size"`
	MaxConnections    int64  `koanf:"max_connections"`
}

// PoolSection configures the reactor's thread pools. A value of 0 means
// "auto" — the number of workers defaults to runtime.NumCPU().
type PoolSection struct {
	ReadThreads    int `koanf:"read_threads"`
	WriteThreads   int `koanf:"write_threads"`
	AcceptThreads  int `koanf:"accept_threads"`
	CommandThreads int `koanf:"command_threads"`
}

// StoreSection configures the sharded key/value store and its persistence
// collaborator.
type StoreSection struct {
	ShardCount        int    `koanf:"shard_count"`
	BucketPerShard    int    `koanf:"bucket_per_shard"`
	CacheSize         int64  `koanf:"cache_size"`
	CachePolicy       string `koanf:"cache_policy"`
	AdaptiveSizing    bool   `koanf:"adaptive_cache_sizing"`
	EnableCompression bool   `koanf:"enable_compression"`
	PersistPath       string `koanf:"persist_path"`
	SyncIntervalSec   int    `koanf:"sync_interval_sec"`
}

// CacheSection configures the adaptive cache's background resizer and
// expiration sweep.
type CacheSection struct {
	MinCapacity           int64   `koanf:"min_capacity"`
	MaxCapacity           int64   `koanf:"max_capacity"`
	AdjustmentIntervalSec int     `koanf:"adjustment_interval_sec"`
	CleanupThreshold      float64 `koanf:"cleanup_threshold"`
	CleanupTarget         float64 `koanf:"cleanup_target"`
}

// LogSection configures the ambient logger.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SyncInterval returns StoreSection's sync interval as a time.Duration.
func (s StoreSection) SyncInterval() time.Duration {
	return time.Duration(s.SyncIntervalSec) * time.Second
}

// AdjustmentInterval returns CacheSection's adjustment interval as a
// time.Duration.
func (c CacheSection) AdjustmentInterval() time.Duration {
	return time.Duration(c.AdjustmentIntervalSec) * time.Second
}
