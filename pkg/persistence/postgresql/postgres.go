// Package postgresql provides PostgreSQL persistence for actions, analyses and model graphs.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

var _ persistence.Persistence = (*Persistence)(nil)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	catalog      *CatalogRepository
	actionRepo   *ActionRepository
	analysisRepo *AnalysisRepository
	modelRepo    *ModelRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		catalog:      NewCatalogRepository(database, logger),
		actionRepo:   NewActionRepository(database, logger),
		analysisRepo: NewAnalysisRepository(database, logger),
		modelRepo:    NewModelRepository(database, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Catalog() persistence.Catalog { return p.catalog }

func (p *Persistence) ActionRepository() persistence.ActionRepository { return p.actionRepo }

func (p *Persistence) AnalysisRepository() persistence.AnalysisRepository { return p.analysisRepo }

func (p *Persistence) ModelRepository() persistence.ModelRepository { return p.modelRepo }

// WithinAnalysis runs fn in a transaction holding the analysis row lock.
func (p *Persistence) WithinAnalysis(
	ctx context.Context,
	analysisID int64,
	fn func(ctx context.Context, tx persistence.Tx) error,
) error {
	return p.inTx(ctx, analysisID, func(sqlTx *sql.Tx) (int64, error) {
		var locked int64

		err := sqlTx.QueryRowContext(ctx, `
			SELECT a.id
			FROM analyses a
			JOIN actions ac ON ac.id = a.action_id
			WHERE a.id = $1 AND a.deleted = false AND ac.deleted = false
			FOR UPDATE OF a
		`, analysisID).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, persistence.NewEntityError("WithinAnalysis", "analysis", analysisID, persistence.ErrAnalysisNotFound)
			}

			return 0, fmt.Errorf("failed to lock analysis %d: %w", analysisID, err)
		}

		return locked, nil
	}, fn)
}

// CreateAnalysis inserts the analysis and runs fn in the same transaction.
func (p *Persistence) CreateAnalysis(
	ctx context.Context,
	analysis *models.Analysis,
	fn func(ctx context.Context, tx persistence.Tx) error,
) error {
	return p.inTx(ctx, 0, func(sqlTx *sql.Tx) (int64, error) {
		if err := insertAnalysis(ctx, sqlTx, analysis); err != nil {
			return 0, err
		}

		return analysis.ID, nil
	}, fn)
}

// inTx begins a transaction, resolves the analysis it is scoped to with
// begin and hands fn a unit of work on it.
func (p *Persistence) inTx(
	ctx context.Context,
	analysisID int64,
	begin func(sqlTx *sql.Tx) (int64, error),
	fn func(ctx context.Context, tx persistence.Tx) error,
) (err error) {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			rollbackErr := sqlTx.Rollback()
			if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				p.logger.ErrorContext(ctx, "failed to roll back", "analysis_id", analysisID, "error", rollbackErr)
			}
		}
	}()

	analysisID, err = begin(sqlTx)
	if err != nil {
		return err
	}

	err = fn(ctx, &tx{tx: sqlTx, logger: p.logger, analysisID: analysisID})
	if err != nil {
		return err
	}

	err = sqlTx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit analysis %d: %w", analysisID, err)
	}

	return nil
}
