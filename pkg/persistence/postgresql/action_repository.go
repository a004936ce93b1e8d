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

// ActionRepository handles action-related database operations.
type ActionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewActionRepository creates a new action repository.
func NewActionRepository(db *sql.DB, logger *slog.Logger) *ActionRepository {
	return &ActionRepository{db: db, logger: logger}
}

// Create inserts a new action.
func (r *ActionRepository) Create(ctx context.Context, action *models.Action) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO actions (
			name, description, ipp_latitude, ipp_longitude, rp_latitude, rp_longitude, lost_time, created_at, archived
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		action.Name,
		action.Description,
		action.IPPLatitude,
		action.IPPLongitude,
		action.RPLatitude,
		action.RPLongitude,
		action.LostTime,
		action.CreatedAt,
		action.Archived,
	).Scan(&action.ID)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}

	return nil
}

// Update replaces the mutable fields of an action.
func (r *ActionRepository) Update(ctx context.Context, action *models.Action) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE actions SET
			name = $2
		  , description = $3
		  , ipp_latitude = $4
		  , ipp_longitude = $5
		  , rp_latitude = $6
		  , rp_longitude = $7
		  , lost_time = $8
		  , archived = $9
		WHERE id = $1 AND deleted = false
	`,
		action.ID,
		action.Name,
		action.Description,
		action.IPPLatitude,
		action.IPPLongitude,
		action.RPLatitude,
		action.RPLongitude,
		action.LostTime,
		action.Archived,
	)
	if err != nil {
		return fmt.Errorf("failed to update action %d: %w", action.ID, err)
	}

	return expectRow(result, persistence.NewEntityError("Update", "action", action.ID, persistence.ErrActionNotFound))
}

// GetByID returns a non-deleted action.
func (r *ActionRepository) GetByID(ctx context.Context, id int64) (*models.Action, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions ac WHERE ac.id = $1 AND ac.deleted = false`, id)

	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "action", id, persistence.ErrActionNotFound)
		}

		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	return action, nil
}

// List returns non-deleted actions, newest first, filtered on the derived status in SQL.
func (r *ActionRepository) List(ctx context.Context, opts persistence.ListActionsOptions) ([]*models.Action, error) {
	where := []string{"ac.deleted = false"}
	args := make([]any, 0, 3)

	if opts.Archived != nil {
		args = append(args, *opts.Archived)
		where = append(where, "ac.archived = $"+strconv.Itoa(len(args)))
	}

	if opts.Name != "" {
		args = append(args, "%"+opts.Name+"%")
		where = append(where, "ac.name ILIKE $"+strconv.Itoa(len(args)))
	}

	if len(opts.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(opts.Statuses)))
		where = append(where, actionStatusSQL("ac.id")+" = ANY($"+strconv.Itoa(len(args))+")")
	}

	where, args = withinRange(where, args, "ac.created_at", opts.Created)
	where, args = withinRange(where, args, "ac.lost_time", opts.Lost)

	query := `SELECT ` + actionColumns + ` FROM actions ac WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ac.id DESC`

	actions, err := queryAll(ctx, r.logger, r.db, scanAction, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	return actions, nil
}

// Delete soft deletes the action together with its analyses.
func (r *ActionRepository) Delete(ctx context.Context, id int64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `UPDATE actions SET deleted = true WHERE id = $1 AND deleted = false`, id)
	if err != nil {
		return fmt.Errorf("failed to delete action %d: %w", id, err)
	}

	err = expectRow(result, persistence.NewEntityError("Delete", "action", id, persistence.ErrActionNotFound))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE analyses SET deleted = true WHERE action_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analyses of action %d: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit action delete: %w", err)
	}

	return nil
}

// StatusCounts returns the number of non-deleted analyses of the action in
// each derived status.
func (r *ActionRepository) StatusCounts(ctx context.Context, id int64) (models.StatusCounts, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	return countStatuses(ctx, r.logger, r.db, `
		SELECT s.status, COUNT(*) FROM (
			SELECT `+analysisStatusSQL("a.id")+` AS status
			FROM analyses a WHERE a.action_id = $1 AND a.deleted = false
		) s GROUP BY s.status
	`, id)
}
