package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/crosspost-io/crosspost/internal/models"
)

type ScheduleRepository interface {
	Create(ctx context.Context, tx *sql.Tx, s *models.Schedule) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Schedule, error)
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.ScheduleSummary, error)
	ListByDate(ctx context.Context, userID int64, day time.Time) ([]*models.ScheduleSummary, error)
	ClaimPosting(ctx context.Context, id int64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	RecordFailure(ctx context.Context, id int64, status, lastError string) (int, error)
	ListStalePending(ctx context.Context, firedBefore time.Time) ([]*models.Schedule, error)
	ListStuck(ctx context.Context, updatedBefore time.Time) ([]*models.Schedule, error)
	RemoveByUserID(ctx context.Context, userID int64) error
}

type scheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

const scheduleColumns = `
	id, user_id, content_item_id, social_account_id, scheduled_for, timezone,
	status, attempts, last_error, repeat_rule, created_at, updated_at`

func (r *scheduleRepository) Create(ctx context.Context, tx *sql.Tx, s *models.Schedule) (int64, error) {
	query := `
		INSERT INTO schedules (
			user_id, content_item_id, social_account_id, scheduled_for,
			timezone, status, attempts, repeat_rule
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, s.UserID, s.ContentItemID, s.SocialAccountID,
			s.ScheduledFor, s.Timezone, s.Status, s.Attempts, s.RepeatRule).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, s.UserID, s.ContentItemID, s.SocialAccountID,
			s.ScheduledFor, s.Timezone, s.Status, s.Attempts, s.RepeatRule).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *scheduleRepository) GetByID(ctx context.Context, id int64) (*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var s models.Schedule
	err := row.Scan(&s.ID, &s.UserID, &s.ContentItemID, &s.SocialAccountID, &s.ScheduledFor,
		&s.Timezone, &s.Status, &s.Attempts, &s.LastError, &s.RepeatRule, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &s, nil
}

const summaryQuery = `
	SELECT s.id, s.user_id, s.content_item_id, s.social_account_id, s.scheduled_for,
		s.timezone, s.status, s.attempts, s.last_error, s.repeat_rule, s.created_at, s.updated_at,
		a.provider, a.provider_user_id,
		c.preview_url, COALESCE(c.assets->>'caption', ''),
		COALESCE(a.metadata->>'profile_username', '')
	FROM schedules s
	JOIN social_accounts a ON a.id = s.social_account_id
	JOIN content_items c ON c.id = s.content_item_id
	WHERE s.user_id = $1`

func (r *scheduleRepository) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.ScheduleSummary, error) {
	rows, err := r.db.QueryContext(ctx, summaryQuery+` AND s.id = ANY($2) ORDER BY s.scheduled_for`, userID, pq.Array(ids))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (r *scheduleRepository) ListByDate(ctx context.Context, userID int64, day time.Time) ([]*models.ScheduleSummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	rows, err := r.db.QueryContext(ctx, summaryQuery+` AND s.scheduled_for >= $2 AND s.scheduled_for < $3 ORDER BY s.scheduled_for`, userID, start, end)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// ClaimPosting moves a schedule into POSTING only from PENDING or QUEUED.
// Exactly one worker wins; everyone else sees false and skips.
func (r *scheduleRepository) ClaimPosting(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE schedules
		SET status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = ANY($3)
	`
	result, err := r.db.ExecContext(ctx, query, id, models.ScheduleStatusPosting,
		pq.Array([]string{models.ScheduleStatusPending, models.ScheduleStatusQueued}))
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *scheduleRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE schedules SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecordFailure bumps the attempt counter, stores the error text and moves
// the schedule to the given status. Returns the new attempt count.
func (r *scheduleRepository) RecordFailure(ctx context.Context, id int64, status, lastError string) (int, error) {
	query := `
		UPDATE schedules
		SET status = $2, last_error = $3, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, id, status, lastError).Scan(&attempts); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return attempts, nil
}

// ListStalePending finds schedules whose fire time passed without the job
// ever claiming them, i.e. a crash between persist and enqueue.
func (r *scheduleRepository) ListStalePending(ctx context.Context, firedBefore time.Time) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM schedules
		WHERE status = $1 AND scheduled_for < $2`
	rows, err := r.db.QueryContext(ctx, query, models.ScheduleStatusPending, firedBefore)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListStuck finds schedules parked in an in-flight status long after their
// last write: a QUEUED row whose enqueue or retry never fired, or a POSTING
// claim whose worker died.
func (r *scheduleRepository) ListStuck(ctx context.Context, updatedBefore time.Time) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM schedules
		WHERE status = ANY($1) AND updated_at < $2`
	rows, err := r.db.QueryContext(ctx, query,
		pq.Array([]string{models.ScheduleStatusQueued, models.ScheduleStatusPosting}), updatedBefore)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func scanSchedules(rows *sql.Rows) ([]*models.Schedule, error) {
	var schedules []*models.Schedule
	for rows.Next() {
		var s models.Schedule
		err := rows.Scan(&s.ID, &s.UserID, &s.ContentItemID, &s.SocialAccountID, &s.ScheduledFor,
			&s.Timezone, &s.Status, &s.Attempts, &s.LastError, &s.RepeatRule, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return schedules, nil
}

func (r *scheduleRepository) RemoveByUserID(ctx context.Context, userID int64) error {
	query := `DELETE FROM schedules WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func scanSummaries(rows *sql.Rows) ([]*models.ScheduleSummary, error) {
	var summaries []*models.ScheduleSummary
	for rows.Next() {
		var s models.ScheduleSummary
		err := rows.Scan(&s.ID, &s.UserID, &s.ContentItemID, &s.SocialAccountID, &s.ScheduledFor,
			&s.Timezone, &s.Status, &s.Attempts, &s.LastError, &s.RepeatRule, &s.CreatedAt, &s.UpdatedAt,
			&s.Provider, &s.ProviderUserID, &s.ContentPreview, &s.ContentCaption, &s.AccountUsername)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return summaries, nil
}
