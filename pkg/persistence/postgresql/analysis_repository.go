package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/lib/pq"
)

// AnalysisRepository handles analysis-related database operations.
type AnalysisRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(db *sql.DB, logger *slog.Logger) *AnalysisRepository {
	return &AnalysisRepository{db: db, logger: logger}
}

const liveAnalysisJoin = ` FROM analyses a JOIN actions ac ON ac.id = a.action_id WHERE a.deleted = false AND ac.deleted = false`

// Create inserts a new analysis under a live action.
func (r *AnalysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	return insertAnalysis(ctx, r.db, analysis)
}

func insertAnalysis(ctx context.Context, q querier, analysis *models.Analysis) error {
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO analyses (
			action_id, name, description, ipp_latitude, ipp_longitude, rp_latitude, rp_longitude, lost_time, created_at
		)
		SELECT $1::BIGINT, $2::VARCHAR, $3::TEXT, $4::DOUBLE PRECISION, $5::DOUBLE PRECISION,
			$6::DOUBLE PRECISION, $7::DOUBLE PRECISION, $8::TIMESTAMPTZ, $9::TIMESTAMPTZ
		WHERE EXISTS (SELECT 1 FROM actions WHERE id = $1 AND deleted = false)
		RETURNING id
	`,
		analysis.ActionID,
		analysis.Name,
		analysis.Description,
		analysis.IPPLatitude,
		analysis.IPPLongitude,
		analysis.RPLatitude,
		analysis.RPLongitude,
		analysis.LostTime,
		analysis.CreatedAt,
	).Scan(&analysis.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewEntityError("Create", "action", analysis.ActionID, persistence.ErrActionNotFound)
		}

		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	return nil
}

// Update replaces the mutable fields of an analysis.
func (r *AnalysisRepository) Update(ctx context.Context, analysis *models.Analysis) error {
	return updateAnalysis(ctx, r.db, analysis)
}

func updateAnalysis(ctx context.Context, q querier, analysis *models.Analysis) error {
	result, err := q.ExecContext(ctx, `
		UPDATE analyses SET
			name = $2
		  , description = $3
		  , ipp_latitude = $4
		  , ipp_longitude = $5
		  , rp_latitude = $6
		  , rp_longitude = $7
		  , lost_time = $8
		WHERE id = $1 AND deleted = false
	`,
		analysis.ID,
		analysis.Name,
		analysis.Description,
		analysis.IPPLatitude,
		analysis.IPPLongitude,
		analysis.RPLatitude,
		analysis.RPLongitude,
		analysis.LostTime,
	)
	if err != nil {
		return fmt.Errorf("failed to update analysis %d: %w", analysis.ID, err)
	}

	return expectRow(result, persistence.NewEntityError("Update", "analysis", analysis.ID, persistence.ErrAnalysisNotFound))
}

// GetByID returns a live analysis.
func (r *AnalysisRepository) GetByID(ctx context.Context, id int64) (*models.Analysis, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+analysisColumns+liveAnalysisJoin+` AND a.id = $1`, id)

	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "analysis", id, persistence.ErrAnalysisNotFound)
		}

		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}

	return analysis, nil
}

// List returns live analyses of non-archived actions, newest first.
func (r *AnalysisRepository) List(ctx context.Context, opts persistence.ListAnalysesOptions) ([]*models.Analysis, error) {
	where := []string{"true"}
	args := make([]any, 0, 3)

	if !opts.IncludeArchived {
		where = append(where, "ac.archived = false")
	}

	if opts.ActionID != 0 {
		args = append(args, opts.ActionID)
		where = append(where, "a.action_id = $"+strconv.Itoa(len(args)))
	}

	if opts.Name != "" {
		args = append(args, "%"+opts.Name+"%")
		where = append(where, "a.name ILIKE $"+strconv.Itoa(len(args)))
	}

	if len(opts.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(opts.Statuses)))
		where = append(where, analysisStatusSQL("a.id")+" = ANY($"+strconv.Itoa(len(args))+")")
	}

	where, args = withinRange(where, args, "a.created_at", opts.Created)
	where, args = withinRange(where, args, "COALESCE(a.lost_time, ac.lost_time)", opts.Lost)

	query := `SELECT ` + analysisColumns + liveAnalysisJoin + ` AND ` + strings.Join(where, " AND ") + ` ORDER BY a.id DESC`

	analyses, err := queryAll(ctx, r.logger, r.db, scanAnalysis, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	return analyses, nil
}

// Delete soft deletes an analysis.
func (r *AnalysisRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE analyses SET deleted = true WHERE id = $1 AND deleted = false`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis %d: %w", id, err)
	}

	return expectRow(result, persistence.NewEntityError("Delete", "analysis", id, persistence.ErrAnalysisNotFound))
}

// StatusCounts returns the number of models of the analysis in each status.
func (r *AnalysisRepository) StatusCounts(ctx context.Context, id int64) (models.StatusCounts, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	return countStatuses(ctx, r.logger, r.db, `SELECT status, COUNT(*) FROM models WHERE analysis_id = $1 GROUP BY status`, id)
}

// countStatuses runs a query returning (status, count) pairs.
func countStatuses(ctx context.Context, logger *slog.Logger, q querier, query string, args ...any) (models.StatusCounts, error) {
	type statusCount struct {
		status models.ModelStatus
		count  int
	}

	rows, err := queryAll(ctx, logger, q, func(row scanner) (statusCount, error) {
		var (
			sc     statusCount
			status string
		)

		err := row.Scan(&status, &sc.count)
		sc.status = models.ModelStatus(status)

		return sc, err
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}

	counts := make(models.StatusCounts, len(rows))
	for _, sc := range rows {
		counts[sc.status] = sc.count
	}

	return counts, nil
}
