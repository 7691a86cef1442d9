package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/crosspost-io/crosspost/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) (int64, error)
	GetByScheduleID(ctx context.Context, scheduleID int64) (*models.Post, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, schedule_id, status, provider_post_id, response)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, post.UserID, post.ScheduleID, post.Status,
		post.ProviderPostID, post.Response).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByScheduleID(ctx context.Context, scheduleID int64) (*models.Post, error) {
	// A schedule resumed after a terminal failure can own several rows;
	// the newest one is the current outcome.
	query := `
		SELECT id, user_id, schedule_id, status, provider_post_id, response, created_at
		FROM posts
		WHERE schedule_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, scheduleID)

	var post models.Post
	err := row.Scan(&post.ID, &post.UserID, &post.ScheduleID, &post.Status,
		&post.ProviderPostID, &post.Response, &post.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &post, nil
}

func (r *postRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `
		SELECT id, user_id, schedule_id, status, provider_post_id, response, created_at
		FROM posts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		var post models.Post
		err := rows.Scan(&post.ID, &post.UserID, &post.ScheduleID, &post.Status,
			&post.ProviderPostID, &post.Response, &post.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, &post)
	}
	return posts, nil
}
