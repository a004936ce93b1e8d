package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/events"
	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/otelhelper"
	"github.com/dukex/montracker/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Synchronizer merges remote computation status into local models.
type Synchronizer struct {
	persistence persistence.Persistence
	remote      RemoteService
	status      *Status
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewSynchronizer(
	p persistence.Persistence,
	remote RemoteService,
	status *Status,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Synchronizer {
	if tracer == nil {
		tracer = otelhelper.Noop("synchronizer")
	}

	return &Synchronizer{
		persistence: p,
		remote:      remote,
		status:      status,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "synchronizer"),
	}
}

// MergeResult refreshes one model from the calculation service. Finished and
// error models are never changed. The remote call runs before the unit of
// work is opened, and the model is checked again under the lock.
func (s *Synchronizer) MergeResult(ctx context.Context, modelID int64) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "synchronizer.merge_result",
		attribute.Int64(otelhelper.ModelIDKey, modelID))
	defer span.End()

	err := s.mergeResult(ctx, modelID)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (s *Synchronizer) mergeResult(ctx context.Context, modelID int64) error {
	model, err := s.persistence.ModelRepository().GetByID(ctx, modelID)
	if err != nil {
		return err
	}

	if model.Status == models.StatusDraft {
		return &ServiceError{
			Op:      "MergeResult",
			Code:    "DRAFT_MODEL",
			Message: fmt.Sprintf("model %d has not been submitted", modelID),
			Err:     ErrDraftModel,
		}
	}

	if model.Status.Terminal() {
		return nil
	}

	result, err := s.remote.Status(ctx, model.RemoteID())
	if err != nil {
		return err
	}

	mapped := models.FromRemote(result.Status)

	var changed *events.ModelStatusChanged

	err = s.persistence.WithinAnalysis(ctx, model.AnalysisID, func(ctx context.Context, tx persistence.Tx) error {
		modelRows, err := tx.Models(ctx)
		if err != nil {
			return err
		}

		idx := slices.IndexFunc(modelRows, func(m *models.Model) bool { return m.ID == modelID })
		if idx < 0 {
			return persistence.NewEntityError("MergeResult", "model", modelID, persistence.ErrModelNotFound)
		}

		current := modelRows[idx]
		if current.Status.Terminal() || current.Status == models.StatusDraft || current.Status == mapped {
			return nil
		}

		from := current.Status
		current.Status = mapped

		if err := tx.UpdateModel(ctx, current); err != nil {
			return err
		}

		var layerIDs []string

		if mapped == models.StatusFinished {
			for _, layerID := range result.LayerIDs {
				if err := tx.CreateLayer(ctx, &models.Layer{ModelID: current.ID, LayersID: layerID}); err != nil {
					return err
				}

				layerIDs = append(layerIDs, layerID)
			}
		}

		analysis, err := tx.Analysis(ctx)
		if err != nil {
			return err
		}

		changed = &events.ModelStatusChanged{
			BaseEvent: events.NewBaseEvent(events.ModelStatusChangedEvent, analysis.ActionID, analysis.ID),
			ModelID:   current.ID,
			From:      from,
			To:        mapped,
			LayerIDs:  layerIDs,
		}

		return nil
	})
	if err != nil {
		return err
	}

	if changed == nil {
		return nil
	}

	changed.ModelName = s.typeName(ctx, model.ModelTypeID)

	s.status.Invalidate(ctx, changed.ActionID, changed.AnalysisID)
	publish(ctx, s.logger, s.publisher, fmt.Sprint(changed.AnalysisID), changed)

	s.logger.InfoContext(ctx, "Merged remote status",
		"model_id", modelID, "from", changed.From, "to", changed.To, "layers", len(changed.LayerIDs))

	return nil
}

func (s *Synchronizer) typeName(ctx context.Context, typeID int64) string {
	types, err := s.persistence.Catalog().ModelTypes(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load model types", "error", err)

		return ""
	}

	for _, t := range types {
		if t.ID == typeID {
			return t.Name
		}
	}

	return ""
}
