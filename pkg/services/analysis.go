package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/graph"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

// AnalysisWithStatus is an analysis together with its derived status.
type AnalysisWithStatus struct {
	*models.Analysis

	Status models.ModelStatus `json:"status"`
}

// ModelDetail describes one model of an analysis.
type ModelDetail struct {
	*models.Model

	Name     string   `json:"name"`
	Complex  bool     `json:"complex"`
	Weight   *int     `json:"weight,omitempty"`
	LayerIDs []string `json:"layer_ids,omitempty"`
}

// AnalysisDetail is an analysis with its models and profiles.
type AnalysisDetail struct {
	AnalysisWithStatus

	Models   []*ModelDetail    `json:"models"`
	Profiles []*models.Profile `json:"profiles"`
}

// CreateAnalysisRequest holds a new analysis with its initial models and profiles.
type CreateAnalysisRequest struct {
	Analysis *models.Analysis
	Models   map[int64]*int
	Profiles map[int64]int
}

// UpdateAnalysisRequest holds the changes to an analysis. Nil fields are
// left untouched. Models and Profiles replace the whole current set.
type UpdateAnalysisRequest struct {
	Name         *string
	Description  *string
	IPPLatitude  *float64
	IPPLongitude *float64
	RPLatitude   *float64
	RPLongitude  *float64
	LostTime     *time.Time
	Models       map[int64]*int
	Profiles     map[int64]int
}

// Analysis handles analysis-related business operations.
type Analysis struct {
	persistence  persistence.Persistence
	status       *Status
	reconciler   *Reconciler
	orchestrator *Orchestrator
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
}

// NewAnalysis creates a new analysis service.
func NewAnalysis(
	p persistence.Persistence,
	status *Status,
	reconciler *Reconciler,
	orchestrator *Orchestrator,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Analysis {
	return &Analysis{
		persistence:  p,
		status:       status,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		publisher:    publisher,
		logger:       logger.With("module", "analysis_service"),
	}
}

// List returns analyses matching the options, newest first.
func (a *Analysis) List(ctx context.Context, opts persistence.ListAnalysesOptions) ([]*AnalysisWithStatus, error) {
	for _, status := range opts.Statuses {
		if !status.Valid() {
			return nil, NewValidationError("ListAnalyses", "INVALID_STATUS", fmt.Sprintf("unknown status %q", status), ErrInvalidRequest)
		}
	}

	analyses, err := a.persistence.AnalysisRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	out := make([]*AnalysisWithStatus, 0, len(analyses))

	for _, analysis := range analyses {
		status, err := a.status.Analysis(ctx, analysis.ID)
		if err != nil {
			return nil, err
		}

		out = append(out, &AnalysisWithStatus{Analysis: analysis, Status: status})
	}

	return out, nil
}

// Get returns an analysis with its models, weights, layers and profiles.
func (a *Analysis) Get(ctx context.Context, id int64) (*AnalysisDetail, error) {
	analysis, err := a.persistence.AnalysisRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status, err := a.status.Analysis(ctx, id)
	if err != nil {
		return nil, err
	}

	repo := a.persistence.ModelRepository()

	modelRows, err := repo.ByAnalysis(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	weights, err := repo.Weights(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load model weights: %w", err)
	}

	profiles, err := repo.Profiles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	types, err := a.persistence.Catalog().ModelTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model types: %w", err)
	}

	g, err := graph.New(nil, types, modelRows, weights)
	if err != nil {
		return nil, err
	}

	detail := &AnalysisDetail{
		AnalysisWithStatus: AnalysisWithStatus{Analysis: analysis, Status: status},
		Models:             make([]*ModelDetail, 0, len(modelRows)),
		Profiles:           profiles,
	}

	for _, m := range g.Models() {
		md := &ModelDetail{Model: m, Name: g.Name(m), Complex: g.IsComplex(m)}

		if !md.Complex {
			weight, err := g.WeightOf(m.ID)
			if err != nil {
				return nil, err
			}

			md.Weight = &weight
		}

		layers, err := repo.Layers(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load layers: %w", err)
		}

		for _, layer := range layers {
			md.LayerIDs = append(md.LayerIDs, layer.LayersID)
		}

		detail.Models = append(detail.Models, md)
	}

	return detail, nil
}

// Create stores a new analysis with its initial models and profiles in one
// unit of work.
func (a *Analysis) Create(ctx context.Context, req CreateAnalysisRequest) (*AnalysisDetail, error) {
	if req.Analysis == nil {
		return nil, NewValidationError("CreateAnalysis", "ANALYSIS_REQUIRED", "analysis is required", ErrInvalidRequest)
	}

	p, err := a.reconciler.prepare(ctx, req.Models, req.Profiles)
	if err != nil {
		return nil, err
	}

	analysis := req.Analysis
	analysis.ID = 0
	analysis.Deleted = false

	err = a.persistence.CreateAnalysis(ctx, analysis, func(ctx context.Context, tx persistence.Tx) error {
		return a.reconciler.applyPlan(ctx, tx, analysis.ID, p)
	})
	if err != nil {
		return nil, err
	}

	a.status.Invalidate(ctx, analysis.ActionID, analysis.ID)
	a.logger.InfoContext(ctx, "Created analysis", "analysis_id", analysis.ID, "action_id", analysis.ActionID)

	return a.Get(ctx, analysis.ID)
}

// Duplicate copies an analysis.
func (a *Analysis) Duplicate(ctx context.Context, sourceID int64, overrides DuplicateOverrides) (*AnalysisDetail, error) {
	copied, err := a.reconciler.Duplicate(ctx, sourceID, overrides)
	if err != nil {
		return nil, err
	}

	return a.Get(ctx, copied.ID)
}

// Update changes fields, models and profiles of an analysis in one unit of
// work. A waiting or processing analysis cannot be edited, and model and
// profile changes require a draft analysis.
func (a *Analysis) Update(ctx context.Context, id int64, req UpdateAnalysisRequest) (*AnalysisDetail, error) {
	p, err := a.reconciler.prepare(ctx, req.Models, req.Profiles)
	if err != nil {
		return nil, err
	}

	var actionID int64

	err = a.persistence.WithinAnalysis(ctx, id, func(ctx context.Context, tx persistence.Tx) error {
		modelRows, err := tx.Models(ctx)
		if err != nil {
			return err
		}

		if status := models.Aggregate(statusesOf(modelRows)...); status.InFlight() {
			return conflict("UpdateAnalysis", status)
		}

		analysis, err := tx.Analysis(ctx)
		if err != nil {
			return err
		}

		actionID = analysis.ActionID

		if req.Name != nil {
			analysis.Name = *req.Name
		}

		if req.Description != nil {
			analysis.Description = *req.Description
		}

		analysis.IPPLatitude = override(analysis.IPPLatitude, req.IPPLatitude)
		analysis.IPPLongitude = override(analysis.IPPLongitude, req.IPPLongitude)
		analysis.RPLatitude = override(analysis.RPLatitude, req.RPLatitude)
		analysis.RPLongitude = override(analysis.RPLongitude, req.RPLongitude)
		analysis.LostTime = override(analysis.LostTime, req.LostTime)

		if err := tx.UpdateAnalysis(ctx, analysis); err != nil {
			return fmt.Errorf("failed to update analysis: %w", err)
		}

		return a.reconciler.applyPlan(ctx, tx, id, p)
	})
	if err != nil {
		return nil, err
	}

	a.status.Invalidate(ctx, actionID, id)
	a.logger.InfoContext(ctx, "Updated analysis", "analysis_id", id)

	return a.Get(ctx, id)
}

// Delete removes an analysis and cancels its in-flight computations.
func (a *Analysis) Delete(ctx context.Context, id int64) error {
	analysis, err := a.persistence.AnalysisRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = a.persistence.AnalysisRepository().Delete(ctx, id)
	if err != nil {
		return err
	}

	afterAnalysisDeleted(ctx, a.logger, a.status, a.orchestrator, a.publisher, analysis)
	a.logger.InfoContext(ctx, "Deleted analysis", "analysis_id", id)

	return nil
}

// Start submits the next phase of the analysis to the calculation service.
func (a *Analysis) Start(ctx context.Context, id int64) (*AnalysisDetail, error) {
	if a.orchestrator == nil {
		return nil, errors.New("calculation service is not configured")
	}

	err := a.orchestrator.Start(ctx, id)
	if err != nil {
		return nil, err
	}

	return a.Get(ctx, id)
}
