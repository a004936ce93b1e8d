package services

import (
	"context"
	"log/slog"

	"github.com/dukex/montracker/pkg/cache"
	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

// Status derives analysis and action statuses and memoizes them.
type Status struct {
	persistence persistence.Persistence
	cache       cache.StatusCache
	logger      *slog.Logger
}

// NewStatus creates a status service. A nil cache keeps statuses in memory.
func NewStatus(p persistence.Persistence, statusCache cache.StatusCache, logger *slog.Logger) *Status {
	if statusCache == nil {
		statusCache = cache.NewMemory(cache.DefaultTTL)
	}

	return &Status{
		persistence: p,
		cache:       statusCache,
		logger:      logger.With("module", "status"),
	}
}

// Analysis returns the rollup of the analysis models.
func (s *Status) Analysis(ctx context.Context, id int64) (models.ModelStatus, error) {
	return s.cached(ctx, cache.AnalysisKey(id), func() (models.StatusCounts, error) {
		return s.persistence.AnalysisRepository().StatusCounts(ctx, id)
	})
}

// Action returns the rollup of the action analyses.
func (s *Status) Action(ctx context.Context, id int64) (models.ModelStatus, error) {
	return s.cached(ctx, cache.ActionKey(id), func() (models.StatusCounts, error) {
		return s.persistence.ActionRepository().StatusCounts(ctx, id)
	})
}

// Invalidate drops the memoized statuses of an analysis and its action.
// Failures are logged; entries expire on their own.
func (s *Status) Invalidate(ctx context.Context, actionID, analysisID int64) {
	err := s.cache.Invalidate(ctx, cache.AnalysisKey(analysisID), cache.ActionKey(actionID))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate status cache",
			"action_id", actionID, "analysis_id", analysisID, "error", err)
	}
}

// cached loads the rollup on a miss and stores it unless the key was
// invalidated while loading.
func (s *Status) cached(ctx context.Context, key string, load func() (models.StatusCounts, error)) (models.ModelStatus, error) {
	status, ok, generation, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "status cache read failed", "key", key, "error", err)
	}

	if ok {
		return status, nil
	}

	counts, loadErr := load()
	if loadErr != nil {
		return "", loadErr
	}

	status = counts.Rollup()

	if err != nil {
		return status, nil
	}

	err = s.cache.Set(ctx, key, status, generation)
	if err != nil {
		s.logger.WarnContext(ctx, "status cache write failed", "key", key, "error", err)
	}

	return status, nil
}

// publish sends an event after its unit of work committed. A nil publisher
// disables notifications.
func publish(ctx context.Context, logger *slog.Logger, publisher eventbus.EventPublisher, key string, event eventbus.Event) {
	if publisher == nil {
		return
	}

	err := publisher.Publish(ctx, key, event)
	if err != nil {
		logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
