package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/crosspost-io/crosspost/internal/models"
)

type ContentItemRepository interface {
	Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ContentItem, error)
	CheckByUserID(ctx context.Context, itemID, userID int64) (bool, error)
}

type contentItemRepository struct {
	db *sql.DB
}

func NewContentItemRepository(db *sql.DB) ContentItemRepository {
	return &contentItemRepository{db: db}
}

func (r *contentItemRepository) Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (int64, error) {
	assets, err := json.Marshal(item.Assets)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	query := `
		INSERT INTO content_items (user_id, content_type, status, assets, preview_url, generated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, item.UserID, item.ContentType, item.Status,
			assets, item.PreviewURL, item.GeneratedBy).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, item.UserID, item.ContentType, item.Status,
			assets, item.PreviewURL, item.GeneratedBy).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *contentItemRepository) GetByID(ctx context.Context, id int64) (*models.ContentItem, error) {
	query := `
		SELECT id, user_id, content_type, status, assets, preview_url, generated_by, created_at, updated_at
		FROM content_items
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var item models.ContentItem
	var assets []byte
	err := row.Scan(&item.ID, &item.UserID, &item.ContentType, &item.Status, &assets,
		&item.PreviewURL, &item.GeneratedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	if len(assets) > 0 {
		if err := json.Unmarshal(assets, &item.Assets); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
	}
	return &item, nil
}

func (r *contentItemRepository) CheckByUserID(ctx context.Context, itemID, userID int64) (bool, error) {
	query := `SELECT 1 FROM content_items WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, itemID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}
