package models

import "time"

const (
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// Post is the durable record of a terminal publish attempt, one row per
// schedule that reached success or permanent failure.
type Post struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	ScheduleID     int64     `db:"schedule_id" json:"schedule_id"`
	Status         string    `db:"status" json:"status"`
	ProviderPostID string    `db:"provider_post_id" json:"provider_post_id"`
	Response       string    `db:"response" json:"response,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
