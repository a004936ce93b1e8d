package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/montracker/pkg/models"
)

// CatalogRepository stores model and person types.
type CatalogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *sql.DB, logger *slog.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

// ModelTypes returns every model type.
func (r *CatalogRepository) ModelTypes(ctx context.Context) ([]*models.ModelType, error) {
	return queryAll(ctx, r.logger, r.db, func(row scanner) (*models.ModelType, error) {
		var t models.ModelType

		return &t, row.Scan(&t.ID, &t.Name, &t.Complex, &t.Active)
	}, `SELECT id, name, complex, active FROM model_types ORDER BY id`)
}

// PersonTypes returns every person type.
func (r *CatalogRepository) PersonTypes(ctx context.Context) ([]*models.PersonType, error) {
	return queryAll(ctx, r.logger, r.db, func(row scanner) (*models.PersonType, error) {
		var t models.PersonType

		return &t, row.Scan(&t.ID, &t.Name, &t.Active)
	}, `SELECT id, name, active FROM person_types ORDER BY id`)
}

// SaveModelType inserts a model type, or upserts it when the id is set.
func (r *CatalogRepository) SaveModelType(ctx context.Context, t *models.ModelType) error {
	if t.ID == 0 {
		err := r.db.QueryRowContext(ctx,
			`INSERT INTO model_types (name, complex, active) VALUES ($1, $2, $3) RETURNING id`,
			t.Name, t.Complex, t.Active,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("failed to insert model type: %w", err)
		}

		return nil
	}

	return r.upsert(ctx, "model_types", `
		INSERT INTO model_types (id, name, complex, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, complex = EXCLUDED.complex, active = EXCLUDED.active
	`, t.ID, t.Name, t.Complex, t.Active)
}

// SavePersonType inserts a person type, or upserts it when the id is set.
func (r *CatalogRepository) SavePersonType(ctx context.Context, t *models.PersonType) error {
	if t.ID == 0 {
		err := r.db.QueryRowContext(ctx,
			`INSERT INTO person_types (name, active) VALUES ($1, $2) RETURNING id`,
			t.Name, t.Active,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("failed to insert person type: %w", err)
		}

		return nil
	}

	return r.upsert(ctx, "person_types", `
		INSERT INTO person_types (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, t.ID, t.Name, t.Active)
}

// upsert writes a row with an explicit id and moves the sequence past it.
func (r *CatalogRepository) upsert(ctx context.Context, table, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}

	_, err = r.db.ExecContext(ctx, fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), (SELECT MAX(id) FROM %[1]s))`, table,
	))
	if err != nil {
		return fmt.Errorf("failed to advance %s sequence: %w", table, err)
	}

	return nil
}
