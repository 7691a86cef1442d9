package models

import (
	"time"
)

// AccountMetadata holds the provider-specific extras that ride along with a
// connection. Only the fields for the account's provider are ever set.
type AccountMetadata struct {
	// Facebook
	PageID          string `json:"page_id,omitempty"`
	PageAccessToken string `json:"page_access_token,omitempty"` // encrypted, cached from /me/accounts

	// Mastodon
	InstanceOrigin string `json:"instance_origin,omitempty"`

	// Bluesky
	PDSOrigin string `json:"pds_origin,omitempty"`

	// Profile snapshot taken at connect time
	ProfileName     string `json:"profile_name,omitempty"`
	ProfileUsername string `json:"profile_username,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
}

type SocialAccount struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Provider       string          `db:"provider" json:"provider"`
	ProviderUserID string          `db:"provider_user_id" json:"provider_user_id"`
	AccessToken    string          `db:"access_token" json:"-"`
	RefreshToken   string          `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time      `db:"token_expires_at" json:"token_expires_at"`
	Scopes         string          `db:"scopes" json:"scopes"`
	Metadata       AccountMetadata `db:"metadata" json:"metadata"`
	Active         bool            `db:"active" json:"active"`
	ConnectedAt    time.Time       `db:"connected_at" json:"connected_at"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the access token needs a refresh before use.
// Accounts without an expiry never expire.
func (a *SocialAccount) Expired(now time.Time) bool {
	return a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(now)
}
