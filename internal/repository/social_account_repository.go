package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/crosspost-io/crosspost/internal/models"
)

type SocialAccountRepository interface {
	Upsert(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	GetByUserProvider(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error)
	ListActiveByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.SocialAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error)
	UpdateTokens(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) (bool, error)
	UpdateMetadata(ctx context.Context, id int64, meta models.AccountMetadata) error
	Deactivate(ctx context.Context, userID int64, provider string) error
	RemoveByUserID(ctx context.Context, userID int64) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const socialAccountColumns = `
	id, user_id, provider, provider_user_id, access_token, refresh_token,
	token_expires_at, scopes, metadata, active, connected_at, created_at, updated_at`

func (r *socialAccountRepository) Upsert(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	meta, err := json.Marshal(sa.Metadata)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	// Reconnecting replaces the credential in place; at most one active
	// row exists per (user, provider).
	query := `
		INSERT INTO social_accounts (
			user_id, provider, provider_user_id, access_token, refresh_token,
			token_expires_at, scopes, metadata, active, connected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			metadata = EXCLUDED.metadata,
			active = TRUE,
			connected_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	var id int64
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, sa.UserID, sa.Provider, sa.ProviderUserID,
			sa.AccessToken, sa.RefreshToken, sa.TokenExpiresAt, sa.Scopes, meta).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, sa.UserID, sa.Provider, sa.ProviderUserID,
			sa.AccessToken, sa.RefreshToken, sa.TokenExpiresAt, sa.Scopes, meta).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + ` FROM social_accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *socialAccountRepository) GetByUserProvider(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND provider = $2
		ORDER BY connected_at DESC
		LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, provider))
}

func (r *socialAccountRepository) ListActiveByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND active AND id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *socialAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND active
		ORDER BY connected_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *socialAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE active AND refresh_token <> '' AND token_expires_at IS NOT NULL AND token_expires_at < $1`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// UpdateTokens persists a rotated token pair only when the stored access
// token still equals the one the refresh started from. A concurrent refresh
// that already rotated the credential makes this a no-op, which keeps a
// losing refresher from overwriting a newer token with a stale one.
func (r *socialAccountRepository) UpdateTokens(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) (bool, error) {
	query := `
		UPDATE social_accounts
		SET
			access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = COALESCE($5, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND access_token = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, oldAccessToken, sa.AccessToken, sa.RefreshToken, sa.TokenExpiresAt)
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

func (r *socialAccountRepository) UpdateMetadata(ctx context.Context, id int64, meta models.AccountMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	query := `UPDATE social_accounts SET metadata = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, raw); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) Deactivate(ctx context.Context, userID int64, provider string) error {
	query := `UPDATE social_accounts SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE user_id = $1 AND provider = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, provider); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) RemoveByUserID(ctx context.Context, userID int64) error {
	query := `DELETE FROM social_accounts WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) scanOne(row *sql.Row) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	var meta []byte
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Provider, &sa.ProviderUserID, &sa.AccessToken,
		&sa.RefreshToken, &sa.TokenExpiresAt, &sa.Scopes, &meta, &sa.Active,
		&sa.ConnectedAt, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sa.Metadata); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
	}
	return &sa, nil
}

func (r *socialAccountRepository) scanAll(rows *sql.Rows) ([]*models.SocialAccount, error) {
	var accounts []*models.SocialAccount
	for rows.Next() {
		var sa models.SocialAccount
		var meta []byte
		err := rows.Scan(&sa.ID, &sa.UserID, &sa.Provider, &sa.ProviderUserID, &sa.AccessToken,
			&sa.RefreshToken, &sa.TokenExpiresAt, &sa.Scopes, &meta, &sa.Active,
			&sa.ConnectedAt, &sa.CreatedAt, &sa.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sa.Metadata); err != nil {
				slog.Info(err.Error())
				return nil, err
			}
		}
		accounts = append(accounts, &sa)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return accounts, nil
}
