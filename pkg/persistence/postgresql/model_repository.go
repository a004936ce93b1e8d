package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/lib/pq"
)

// ModelRepository reads committed model graph rows.
type ModelRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewModelRepository creates a new model repository.
func NewModelRepository(db *sql.DB, logger *slog.Logger) *ModelRepository {
	return &ModelRepository{db: db, logger: logger}
}

// GetByID returns a model.
func (r *ModelRepository) GetByID(ctx context.Context, id int64) (*models.Model, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models m WHERE m.id = $1`, id)

	model, err := scanModel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "model", id, persistence.ErrModelNotFound)
		}

		return nil, fmt.Errorf("failed to scan model: %w", err)
	}

	return model, nil
}

// InFlight returns in-flight models of live analyses.
func (r *ModelRepository) InFlight(ctx context.Context) ([]*models.Model, error) {
	return queryAll(ctx, r.logger, r.db, scanModel, `
		SELECT `+modelColumns+`
		FROM models m
		JOIN analyses a ON a.id = m.analysis_id
		JOIN actions ac ON ac.id = a.action_id
		WHERE m.status = ANY($1) AND a.deleted = false AND ac.deleted = false
		ORDER BY m.id
	`, pq.Array(statusStrings(models.InFlightStatuses)))
}

// ByAnalysis returns the models of an analysis.
func (r *ModelRepository) ByAnalysis(ctx context.Context, analysisID int64) ([]*models.Model, error) {
	return modelsOf(ctx, r.logger, r.db, analysisID)
}

// Weights returns the edges owned by models of an analysis.
func (r *ModelRepository) Weights(ctx context.Context, analysisID int64) ([]*models.ModelWeight, error) {
	return weightsOf(ctx, r.logger, r.db, analysisID)
}

// Profiles returns the profiles of an analysis.
func (r *ModelRepository) Profiles(ctx context.Context, analysisID int64) ([]*models.Profile, error) {
	return profilesOf(ctx, r.logger, r.db, analysisID)
}

// Layers returns the layers of a model.
func (r *ModelRepository) Layers(ctx context.Context, modelID int64) ([]*models.Layer, error) {
	return layersOf(ctx, r.logger, r.db, modelID)
}

func modelsOf(ctx context.Context, logger *slog.Logger, q querier, analysisID int64) ([]*models.Model, error) {
	return queryAll(ctx, logger, q, scanModel,
		`SELECT `+modelColumns+` FROM models m WHERE m.analysis_id = $1 ORDER BY m.id`, analysisID)
}

func weightsOf(ctx context.Context, logger *slog.Logger, q querier, analysisID int64) ([]*models.ModelWeight, error) {
	return queryAll(ctx, logger, q, scanWeight, `
		SELECT w.id, w.model_id, w.child_model_id, w.weight
		FROM model_weights w
		JOIN models m ON m.id = w.model_id
		WHERE m.analysis_id = $1
		ORDER BY w.id
	`, analysisID)
}

func profilesOf(ctx context.Context, logger *slog.Logger, q querier, analysisID int64) ([]*models.Profile, error) {
	return queryAll(ctx, logger, q, scanProfile,
		`SELECT id, analysis_id, person_type_id, weight FROM profiles WHERE analysis_id = $1 ORDER BY id`, analysisID)
}

func layersOf(ctx context.Context, logger *slog.Logger, q querier, modelID int64) ([]*models.Layer, error) {
	return queryAll(ctx, logger, q, scanLayer,
		`SELECT id, model_id, layers_id FROM layers WHERE model_id = $1 ORDER BY id`, modelID)
}
