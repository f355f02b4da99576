package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates the profile cache for the configured tier: an LRU for
// "memory", Redis for "redis", or both layers when two-phase is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key-value surface every cache layer provides.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func profileKey(entityID string) string {
	return "profile:" + entityID
}

func loadProfile(ctx context.Context, s byteStore, tenantID, entityID string) (*domain.BehavioralProfile, error) {
	data, err := s.Get(ctx, tenantID, profileKey(entityID))
	if err != nil || data == nil {
		return nil, err
	}

	var p domain.BehavioralProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return &p, nil
}

func storeProfile(ctx context.Context, s byteStore, tenantID, entityID string, p *domain.BehavioralProfile, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return s.Set(ctx, tenantID, profileKey(entityID), data, ttl)
}

// TwoPhaseCache keeps hot profiles in a per-process LRU (L1) in front of
// Redis (L2), which is shared by every Kestrel instance.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	return newTwoPhase(local, remote, time.Duration(cfg.LocalTTL)*time.Second), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get reads L1, then L2, filling L1 on an L2 hit. An unreachable L2 is a
// miss, so baselines are rebuilt from the repository instead of failing.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil {
		slog.Warn("L2 cache read failed",
			"tenant_id", tenantID,
			"key", key,
			"error", err,
		)
		return nil, nil
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes L1 with at most the L1 TTL, then L2 with the full TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete evicts from both layers. L1 is always cleared so this node never
// serves a stale profile, even when L2 cannot be reached.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	localErr := c.local.Delete(ctx, tenantID, key)
	if err := c.remote.Delete(ctx, tenantID, key); err != nil {
		return fmt.Errorf("L2 delete failed: %w", err)
	}
	return localErr
}

// GetProfile reads a baseline profile through both layers.
func (c *TwoPhaseCache) GetProfile(ctx context.Context, tenantID string, entityID string) (*domain.BehavioralProfile, error) {
	return loadProfile(ctx, c, tenantID, entityID)
}

// SetProfile caches a baseline profile in both layers.
func (c *TwoPhaseCache) SetProfile(ctx context.Context, tenantID string, entityID string, p *domain.BehavioralProfile, ttl time.Duration) error {
	return storeProfile(ctx, c, tenantID, entityID, p, ttl)
}

// DeleteProfile drops a cached baseline profile.
func (c *TwoPhaseCache) DeleteProfile(ctx context.Context, tenantID string, entityID string) error {
	return c.Delete(ctx, tenantID, profileKey(entityID))
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
