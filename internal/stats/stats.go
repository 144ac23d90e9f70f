// Package stats serves read-heavy aggregate queries through the TTL cache.
package stats

import (
	"context"
	"time"

	"github.com/em1l4k/docflow/internal/cache"
	"github.com/em1l4k/docflow/internal/repository"
	"github.com/em1l4k/docflow/pkg/models"
)

const (
	documentStatsKey = "stats:documents"
	workflowStatsKey = "stats:workflows"
	storageStatsKey  = "stats:storage"
)

// Service answers statistics queries, caching each aggregate for a short TTL
// so that dashboard-style polling does not hammer the store.
type Service struct {
	store repository.Store
	cache *cache.Cache[string, any]
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a stats Service caching aggregates for ttl.
func NewService(store repository.Store, c *cache.Cache[string, any], ttl time.Duration) *Service {
	return &Service{store: store, cache: c, ttl: ttl, now: time.Now}
}

// Documents returns document counters by status and kind.
func (s *Service) Documents(ctx context.Context) (*models.DocumentStats, error) {
	if v, ok := s.cache.Get(documentStatsKey); ok {
		return v.(*models.DocumentStats), nil
	}
	stats, err := s.store.DocumentStats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(documentStatsKey, stats, s.ttl)
	return stats, nil
}

// Workflows returns approval-chain counters.
func (s *Service) Workflows(ctx context.Context) (*models.WorkflowStats, error) {
	if v, ok := s.cache.Get(workflowStatsKey); ok {
		return v.(*models.WorkflowStats), nil
	}
	stats, err := s.store.WorkflowStats(ctx, s.now())
	if err != nil {
		return nil, err
	}
	s.cache.Set(workflowStatsKey, stats, s.ttl)
	return stats, nil
}

// Storage returns blob store usage counters.
func (s *Service) Storage(ctx context.Context) (*models.StorageStats, error) {
	if v, ok := s.cache.Get(storageStatsKey); ok {
		return v.(*models.StorageStats), nil
	}
	stats, err := s.store.StorageStats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(storageStatsKey, stats, s.ttl)
	return stats, nil
}

// Invalidate drops all cached aggregates, forcing fresh reads.
func (s *Service) Invalidate() {
	s.cache.Delete(documentStatsKey)
	s.cache.Delete(workflowStatsKey)
	s.cache.Delete(storageStatsKey)
}
