// Package config defines the server configuration structure.
package config

import (
	"errors"
	"fmt"
)

var validCachePolicies = map[string]bool{
	"lru": true, "lfu": true, "fifo": true, "tlru": true, "arc": true,
}

// Verify validates the configuration.
func Verify(cfg *Spec) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStore(&cfg.Store); err != nil {
		return err
	}
	if err := verifyCache(&cfg.Cache); err != nil {
		return err
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Host == "" {
		return errors.New("server.host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Port)
	}
	if cfg.MaxBufferSize < cfg.InitialBufferSize {
		return errors.New("server.max_buffer_size must be >= server.initial_buffer_size")
	}
	return nil
}

func verifyStore(cfg *StoreSection) error {
	if cfg.ShardCount < 1 {
		return errors.New("store.shard_count must be at least 1")
	}
	if cfg.BucketPerShard < 1 {
		return errors.New("store.bucket_per_shard must be at least 1")
	}
	if !validCachePolicies[cfg.CachePolicy] {
		return fmt.Errorf("store.cache_policy %q is not one of lru, lfu, fifo, tlru, arc", cfg.CachePolicy)
	}
	if cfg.SyncIntervalSec < 0 {
		return errors.New("store.sync_interval_sec must be >= 0")
	}
	return nil
}

func verifyCache(cfg *CacheSection) error {
	if cfg.MinCapacity > cfg.MaxCapacity {
		return errors.New("cache.min_capacity must be <= cache.max_capacity")
	}
	if cfg.CleanupThreshold <= 0 || cfg.CleanupThreshold > 1 {
		return errors.New("cache.cleanup_threshold must be in (0, 1]")
	}
	if cfg.CleanupTarget <= 0 || cfg.CleanupTarget >= cfg.CleanupThreshold {
		return errors.New("cache.cleanup_target must be in (0, cache.cleanup_threshold)")
	}
	return nil
}
