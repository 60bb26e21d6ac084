// Package config defines the server configuration structure.
package config

// Default configuration values.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 6380

	DefaultMaxEvents         = 256
	DefaultInitialBufferSize = 4096
	DefaultMaxBufferSize     = 1 << 20 // 1 MiB
	DefaultMaxConnections    = 10000

	DefaultShardCount     = 16
	DefaultBucketPerShard = 8
	DefaultCacheSize      = 100000
	DefaultCachePolicy    = "lru"
	DefaultSyncIntervalSec = 30

	DefaultMinCapacity           = 1000
	DefaultMaxCapacity           = 1000000
	DefaultAdjustmentIntervalSec = 60
	DefaultCleanupThreshold      = 0.9
	DefaultCleanupTarget         = 0.75

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration. 0-valued thread-pool
// sizes mean "auto" and are resolved at startup, not here.
func Default() *Spec {
	return &Spec{
		Server: ServerSection{
			Host:              DefaultHost,
			Port:              DefaultPort,
			MaxEvents:         DefaultMaxEvents,
			InitialBufferSize: DefaultInitialBufferSize,
			MaxBufferSize:     DefaultMaxBufferSize,
			MaxConnections:    DefaultMaxConnections,
		},
		Store: StoreSection{
			ShardCount:      DefaultShardCount,
			BucketPerShard:  DefaultBucketPerShard,
			CacheSize:       DefaultCacheSize,
			CachePolicy:     DefaultCachePolicy,
			AdaptiveSizing:  true,
			SyncIntervalSec: DefaultSyncIntervalSec,
		},
		Cache: CacheSection{
			MinCapacity:           DefaultMinCapacity,
			MaxCapacity:           DefaultMaxCapacity,
			AdjustmentIntervalSec: DefaultAdjustmentIntervalSec,
			CleanupThreshold:      DefaultCleanupThreshold,
			CleanupTarget:         DefaultCleanupTarget,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
