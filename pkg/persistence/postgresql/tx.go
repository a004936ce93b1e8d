package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

// tx is a unit of work inside a transaction that holds the analysis row lock.
type tx struct {
	tx         *sql.Tx
	logger     *slog.Logger
	analysisID int64
}

var _ persistence.Tx = (*tx)(nil)

func (t *tx) Analysis(ctx context.Context) (*models.Analysis, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses a WHERE a.id = $1`, t.analysisID)

	analysis, err := scanAnalysis(row)
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}

	return analysis, nil
}

func (t *tx) UpdateAnalysis(ctx context.Context, analysis *models.Analysis) error {
	row := *analysis
	row.ID = t.analysisID

	return updateAnalysis(ctx, t.tx, &row)
}

func (t *tx) Action(ctx context.Context) (*models.Action, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions ac
		JOIN analyses a ON a.action_id = ac.id
		WHERE a.id = $1
	`, t.analysisID)

	action, err := scanAction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	return action, nil
}

func (t *tx) Models(ctx context.Context) ([]*models.Model, error) {
	return modelsOf(ctx, t.logger, t.tx, t.analysisID)
}

func (t *tx) Weights(ctx context.Context) ([]*models.ModelWeight, error) {
	return weightsOf(ctx, t.logger, t.tx, t.analysisID)
}

func (t *tx) Profiles(ctx context.Context) ([]*models.Profile, error) {
	return profilesOf(ctx, t.logger, t.tx, t.analysisID)
}

func (t *tx) Layers(ctx context.Context, modelID int64) ([]*models.Layer, error) {
	return layersOf(ctx, t.logger, t.tx, modelID)
}

func (t *tx) CreateAnalysis(ctx context.Context, analysis *models.Analysis) error {
	return insertAnalysis(ctx, t.tx, analysis)
}

func (t *tx) CreateModel(ctx context.Context, model *models.Model) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO models (analysis_id, model_type_id, status, result_id) VALUES ($1, $2, $3, $4) RETURNING id
	`, model.AnalysisID, model.ModelTypeID, string(model.Status), model.ResultID).Scan(&model.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.ErrDuplicateModel
		}

		return fmt.Errorf("failed to insert model: %w", err)
	}

	return nil
}

func (t *tx) UpdateModel(ctx context.Context, model *models.Model) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE models SET status = $2, result_id = $3 WHERE id = $1`,
		model.ID, string(model.Status), model.ResultID,
	)
	if err != nil {
		return fmt.Errorf("failed to update model %d: %w", model.ID, err)
	}

	return expectRow(result, persistence.NewEntityError("UpdateModel", "model", model.ID, persistence.ErrModelNotFound))
}

func (t *tx) DeleteModel(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model %d: %w", id, err)
	}

	return expectRow(result, persistence.NewEntityError("DeleteModel", "model", id, persistence.ErrModelNotFound))
}

func (t *tx) CreateWeight(ctx context.Context, weight *models.ModelWeight) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO model_weights (model_id, child_model_id, weight) VALUES ($1, $2, $3) RETURNING id`,
		weight.OwnerID, weight.TargetID, weight.Weight,
	).Scan(&weight.ID)
	if err != nil {
		return fmt.Errorf("failed to insert model weight: %w", err)
	}

	return nil
}

func (t *tx) UpdateWeight(ctx context.Context, weight *models.ModelWeight) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE model_weights SET child_model_id = $2, weight = $3 WHERE id = $1`,
		weight.ID, weight.TargetID, weight.Weight,
	)
	if err != nil {
		return fmt.Errorf("failed to update model weight %d: %w", weight.ID, err)
	}

	return expectRow(result, persistence.NewEntityError("UpdateWeight", "model weight", weight.ID, persistence.ErrWeightNotFound))
}

func (t *tx) DeleteWeight(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM model_weights WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model weight %d: %w", id, err)
	}

	return expectRow(result, persistence.NewEntityError("DeleteWeight", "model weight", id, persistence.ErrWeightNotFound))
}

func (t *tx) CreateLayer(ctx context.Context, layer *models.Layer) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO layers (model_id, layers_id) VALUES ($1, $2) RETURNING id`,
		layer.ModelID, layer.LayersID,
	).Scan(&layer.ID)
	if err != nil {
		return fmt.Errorf("failed to insert layer: %w", err)
	}

	return nil
}

func (t *tx) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if profile.ID == 0 {
		err := t.tx.QueryRowContext(ctx,
			`INSERT INTO profiles (analysis_id, person_type_id, weight) VALUES ($1, $2, $3) RETURNING id`,
			profile.AnalysisID, profile.PersonTypeID, profile.Weight,
		).Scan(&profile.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return persistence.ErrDuplicateProfile
			}

			return fmt.Errorf("failed to insert profile: %w", err)
		}

		return nil
	}

	var id int64

	err := t.tx.QueryRowContext(ctx,
		`UPDATE profiles SET person_type_id = $2, weight = $3 WHERE id = $1 RETURNING id`,
		profile.ID, profile.PersonTypeID, profile.Weight,
	).Scan(&id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return persistence.NewEntityError("SaveProfile", "profile", profile.ID, persistence.ErrProfileNotFound)
		case isUniqueViolation(err):
			return persistence.ErrDuplicateProfile
		default:
			return fmt.Errorf("failed to update profile %d: %w", profile.ID, err)
		}
	}

	return nil
}

func (t *tx) DeleteProfile(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile %d: %w", id, err)
	}

	return expectRow(result, persistence.NewEntityError("DeleteProfile", "profile", id, persistence.ErrProfileNotFound))
}
