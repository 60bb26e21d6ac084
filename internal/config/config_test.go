package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Verify(Default()); err != nil {
		t.Fatalf("Verify(Default()) = %v, want nil", err)
	}
}

func TestVerifyRejectsUnknownCachePolicy(t *testing.T) {
	cfg := Default()
	cfg.Store.CachePolicy = "mru"
	if err := Verify(cfg); err == nil {
		t.Fatal("Verify() = nil, want error for unknown cache_policy")
	}
}

func TestVerifyRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	if err := Verify(cfg); err == nil {
		t.Fatal("Verify() = nil, want error for port 0")
	}
}

func TestVerifyRejectsInvertedCapacityBounds(t *testing.T) {
	cfg := Default()
	cfg.Cache.MinCapacity = cfg.Cache.MaxCapacity + 1
	if err := Verify(cfg); err == nil {
		t.Fatal("Verify() = nil, want error when min_capacity > max_capacity")
	}
}

func TestVerifyRejectsCleanupTargetNotBelowThreshold(t *testing.T) {
	cfg := Default()
	cfg.Cache.CleanupTarget = cfg.Cache.CleanupThreshold
	if err := Verify(cfg); err == nil {
		t.Fatal("Verify() = nil, want error when cleanup_target >= cleanup_threshold")
	}
}

func TestSyncIntervalConversion(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Store.SyncInterval().Seconds(), float64(DefaultSyncIntervalSec); got != want {
		t.Errorf("SyncInterval() = %v seconds, want %v", got, want)
	}
}
