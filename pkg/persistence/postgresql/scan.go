package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const actionColumns = `
	ac.id
  , ac.name
  , ac.description
  , ac.ipp_latitude
  , ac.ipp_longitude
  , ac.rp_latitude
  , ac.rp_longitude
  , ac.lost_time
  , ac.created_at
  , ac.archived
  , ac.deleted`

const analysisColumns = `
	a.id
  , a.action_id
  , a.name
  , a.description
  , a.ipp_latitude
  , a.ipp_longitude
  , a.rp_latitude
  , a.rp_longitude
  , a.lost_time
  , a.created_at
  , a.deleted`

const modelColumns = `m.id, m.analysis_id, m.model_type_id, m.status, m.result_id`

func scanAction(row scanner) (*models.Action, error) {
	var (
		action                       models.Action
		ippLat, ippLon, rpLat, rpLon sql.NullFloat64
	)

	err := row.Scan(
		&action.ID,
		&action.Name,
		&action.Description,
		&ippLat,
		&ippLon,
		&rpLat,
		&rpLon,
		&action.LostTime,
		&action.CreatedAt,
		&action.Archived,
		&action.Deleted,
	)
	if err != nil {
		return nil, err
	}

	action.IPPLatitude = nullFloat(ippLat)
	action.IPPLongitude = nullFloat(ippLon)
	action.RPLatitude = nullFloat(rpLat)
	action.RPLongitude = nullFloat(rpLon)
	action.LostTime = action.LostTime.UTC()
	action.CreatedAt = action.CreatedAt.UTC()

	return &action, nil
}

func scanAnalysis(row scanner) (*models.Analysis, error) {
	var (
		analysis                     models.Analysis
		ippLat, ippLon, rpLat, rpLon sql.NullFloat64
		lostTime                     sql.NullTime
	)

	err := row.Scan(
		&analysis.ID,
		&analysis.ActionID,
		&analysis.Name,
		&analysis.Description,
		&ippLat,
		&ippLon,
		&rpLat,
		&rpLon,
		&lostTime,
		&analysis.CreatedAt,
		&analysis.Deleted,
	)
	if err != nil {
		return nil, err
	}

	analysis.IPPLatitude = nullFloat(ippLat)
	analysis.IPPLongitude = nullFloat(ippLon)
	analysis.RPLatitude = nullFloat(rpLat)
	analysis.RPLongitude = nullFloat(rpLon)
	analysis.CreatedAt = analysis.CreatedAt.UTC()

	if lostTime.Valid {
		t := lostTime.Time.UTC()
		analysis.LostTime = &t
	}

	return &analysis, nil
}

func scanModel(row scanner) (*models.Model, error) {
	var (
		model  models.Model
		status string
	)

	err := row.Scan(&model.ID, &model.AnalysisID, &model.ModelTypeID, &status, &model.ResultID)
	if err != nil {
		return nil, err
	}

	model.Status = models.ModelStatus(status)

	return &model, nil
}

func scanWeight(row scanner) (*models.ModelWeight, error) {
	var weight models.ModelWeight

	err := row.Scan(&weight.ID, &weight.OwnerID, &weight.TargetID, &weight.Weight)
	if err != nil {
		return nil, err
	}

	return &weight, nil
}

func scanProfile(row scanner) (*models.Profile, error) {
	var profile models.Profile

	err := row.Scan(&profile.ID, &profile.AnalysisID, &profile.PersonTypeID, &profile.Weight)
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

func scanLayer(row scanner) (*models.Layer, error) {
	var layer models.Layer

	err := row.Scan(&layer.ID, &layer.ModelID, &layer.LayersID)
	if err != nil {
		return nil, err
	}

	return &layer, nil
}

// queryAll runs query and scans every row with scan.
func queryAll[T any](
	ctx context.Context,
	logger *slog.Logger,
	q querier,
	scan func(scanner) (T, error),
	query string,
	args ...any,
) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	out := make([]T, 0)

	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		out = append(out, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// expectRow maps a missing update or delete target to notFound.
func expectRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}

	f := v.Float64

	return &f
}

// withinRange appends the inclusive bounds of r on expr as numbered parameters.
func withinRange(where []string, args []any, expr string, r persistence.TimeRange) ([]string, []any) {
	if r.From != nil {
		args = append(args, *r.From)
		where = append(where, expr+" >= $"+strconv.Itoa(len(args)))
	}

	if r.To != nil {
		args = append(args, *r.To)
		where = append(where, expr+" <= $"+strconv.Itoa(len(args)))
	}

	return where, args
}
