package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/events"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

// ActionWithStatus is an action together with its derived status.
type ActionWithStatus struct {
	*models.Action

	Status models.ModelStatus `json:"status"`
}

// UpdateActionRequest holds the fields to change. Nil fields are left as they are.
type UpdateActionRequest struct {
	Name         *string
	Description  *string
	IPPLatitude  *float64
	IPPLongitude *float64
	RPLatitude   *float64
	RPLongitude  *float64
	LostTime     *time.Time
	Archived     *bool
}

// Action handles action-related business operations.
type Action struct {
	persistence  persistence.Persistence
	status       *Status
	orchestrator *Orchestrator
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
}

// NewAction creates a new action service.
func NewAction(
	p persistence.Persistence,
	status *Status,
	orchestrator *Orchestrator,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Action {
	return &Action{
		persistence:  p,
		status:       status,
		orchestrator: orchestrator,
		publisher:    publisher,
		logger:       logger.With("module", "action_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (a *Action) HealthCheck(ctx context.Context) (string, bool) {
	if a.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := a.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns actions matching the options, newest first.
func (a *Action) List(ctx context.Context, opts persistence.ListActionsOptions) ([]*ActionWithStatus, error) {
	for _, status := range opts.Statuses {
		if !status.Valid() {
			return nil, NewValidationError("ListActions", "INVALID_STATUS", fmt.Sprintf("unknown status %q", status), ErrInvalidRequest)
		}
	}

	actions, err := a.persistence.ActionRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	out := make([]*ActionWithStatus, 0, len(actions))

	for _, action := range actions {
		view, err := a.withStatus(ctx, action)
		if err != nil {
			return nil, err
		}

		out = append(out, view)
	}

	return out, nil
}

// Get returns one action.
func (a *Action) Get(ctx context.Context, id int64) (*ActionWithStatus, error) {
	action, err := a.persistence.ActionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return a.withStatus(ctx, action)
}

// Create stores a new action.
func (a *Action) Create(ctx context.Context, action *models.Action) (*ActionWithStatus, error) {
	action.ID = 0
	action.Deleted = false

	err := a.persistence.ActionRepository().Create(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("failed to create action: %w", err)
	}

	a.logger.InfoContext(ctx, "Created action", "action_id", action.ID)

	return &ActionWithStatus{Action: action, Status: models.StatusDraft}, nil
}

// Update changes the given fields of an action.
func (a *Action) Update(ctx context.Context, id int64, req UpdateActionRequest) (*ActionWithStatus, error) {
	action, err := a.persistence.ActionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		action.Name = *req.Name
	}

	if req.Description != nil {
		action.Description = *req.Description
	}

	if req.LostTime != nil {
		action.LostTime = *req.LostTime
	}

	if req.Archived != nil {
		action.Archived = *req.Archived
	}

	action.IPPLatitude = override(action.IPPLatitude, req.IPPLatitude)
	action.IPPLongitude = override(action.IPPLongitude, req.IPPLongitude)
	action.RPLatitude = override(action.RPLatitude, req.RPLatitude)
	action.RPLongitude = override(action.RPLongitude, req.RPLongitude)

	err = a.persistence.ActionRepository().Update(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("failed to update action: %w", err)
	}

	return a.withStatus(ctx, action)
}

// Delete removes an action and its analyses, and cancels their in-flight
// computations.
func (a *Action) Delete(ctx context.Context, id int64) error {
	analyses, err := a.persistence.AnalysisRepository().List(ctx, persistence.ListAnalysesOptions{ActionID: id, IncludeArchived: true})
	if err != nil {
		return fmt.Errorf("failed to list analyses of action %d: %w", id, err)
	}

	err = a.persistence.ActionRepository().Delete(ctx, id)
	if err != nil {
		return err
	}

	for _, analysis := range analyses {
		afterAnalysisDeleted(ctx, a.logger, a.status, a.orchestrator, a.publisher, analysis)
	}

	a.logger.InfoContext(ctx, "Deleted action", "action_id", id, "analyses", len(analyses))

	return nil
}

func (a *Action) withStatus(ctx context.Context, action *models.Action) (*ActionWithStatus, error) {
	status, err := a.status.Action(ctx, action.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive status of action %d: %w", action.ID, err)
	}

	return &ActionWithStatus{Action: action, Status: status}, nil
}

// afterAnalysisDeleted cancels the remote work of a deleted analysis and
// announces the deletion.
func afterAnalysisDeleted(
	ctx context.Context,
	logger *slog.Logger,
	status *Status,
	orchestrator *Orchestrator,
	publisher eventbus.EventPublisher,
	analysis *models.Analysis,
) {
	status.Invalidate(ctx, analysis.ActionID, analysis.ID)

	cancelled := 0

	if orchestrator != nil {
		var err error

		cancelled, err = orchestrator.Cancel(ctx, analysis.ID)
		if err != nil {
			logger.WarnContext(ctx, "failed to cancel analysis", "analysis_id", analysis.ID, "error", err)
		}
	}

	publish(ctx, logger, publisher, fmt.Sprint(analysis.ID), events.AnalysisDeleted{
		BaseEvent: events.NewBaseEvent(events.AnalysisDeletedEvent, analysis.ActionID, analysis.ID),
		Cancelled: cancelled,
	})
}
