// Package baseline serves the historical behavioral profile of an entity,
// built from stored transactions and kept in the profile cache.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
)

// DefaultTTL is how long a cached baseline stays valid.
const DefaultTTL = 15 * time.Minute

// Service builds and caches baseline profiles.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	history time.Duration
	window  time.Duration
	ttl     time.Duration

	now func() time.Time
}

// NewService creates a baseline service reading historyDays of stored
// transactions. window is the recent-activity window used for new-vendor marking.
func NewService(repo domain.Repository, cache domain.Cache, historyDays int, window time.Duration) *Service {
	if historyDays <= 0 {
		historyDays = 365
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		history: time.Duration(historyDays) * 24 * time.Hour,
		window:  window,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

// GetBaseline returns the entity's baseline profile, or nil when the entity
// has no stored history. Cache failures degrade to a repository read.
func (s *Service) GetBaseline(ctx context.Context, tenantID, entityID string) (*domain.BehavioralProfile, error) {
	if tenantID == "" || entityID == "" {
		return nil, errors.New("tenantID and entityID are required")
	}

	if s.cache != nil {
		p, err := s.cache.GetProfile(ctx, tenantID, entityID)
		if err != nil {
			slog.Warn("baseline cache read failed",
				"tenant_id", tenantID,
				"entity_id", entityID,
				"error", err,
			)
		} else if p != nil {
			return p, nil
		}
	}

	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	txs, err := s.repo.GetTransactionsByEntity(ctx, tenantID, entityID, s.now().Add(-s.history))
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(txs) == 0 {
		return nil, nil
	}

	p := profile.Build(txs, s.window)

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, tenantID, entityID, p, s.ttl); err != nil {
			slog.Warn("baseline cache write failed",
				"tenant_id", tenantID,
				"entity_id", entityID,
				"error", err,
			)
		}
	}

	slog.Debug("baseline built",
		"tenant_id", tenantID,
		"entity_id", entityID,
		"transactions", len(txs),
	)
	return p, nil
}

// Record stores new transactions and drops the cached baseline so the next
// read includes them.
func (s *Service) Record(ctx context.Context, tenantID, entityID string, txs []*domain.Transaction) error {
	if s.repo == nil || len(txs) == 0 {
		return nil
	}
	if err := s.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		return fmt.Errorf("failed to store transactions: %w", err)
	}
	return s.Invalidate(ctx, tenantID, entityID)
}

// Invalidate drops the cached baseline of an entity.
func (s *Service) Invalidate(ctx context.Context, tenantID, entityID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeleteProfile(ctx, tenantID, entityID)
}
