package models

import "time"

const (
	ScheduleStatusPending = "pending"
	ScheduleStatusQueued  = "queued"
	ScheduleStatusPosting = "posting"
	ScheduleStatusSuccess = "success"
	ScheduleStatusFailed  = "failed"
	ScheduleStatusPaused  = "paused"
)

const (
	RepeatNone   = ""
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

type Schedule struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	ContentItemID   int64     `db:"content_item_id" json:"content_item_id"`
	SocialAccountID int64     `db:"social_account_id" json:"social_account_id"`
	ScheduledFor    time.Time `db:"scheduled_for" json:"scheduled_for"`
	Timezone        string    `db:"timezone" json:"timezone"`
	Status          string    `db:"status" json:"status"`
	Attempts        int       `db:"attempts" json:"attempts"`
	LastError       string    `db:"last_error" json:"last_error,omitempty"`
	RepeatRule      string    `db:"repeat_rule" json:"repeat_rule,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// NextOccurrence returns the fire time of the following repetition, or the
// zero time when the schedule does not repeat. The calendar step happens in
// the schedule's timezone so the wall-clock time holds across DST shifts.
func (s *Schedule) NextOccurrence() time.Time {
	var days int
	switch s.RepeatRule {
	case RepeatDaily:
		days = 1
	case RepeatWeekly:
		days = 7
	default:
		return time.Time{}
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return s.ScheduledFor.In(loc).AddDate(0, 0, days)
}

// ScheduleSummary is a schedule joined with its account provider and
// content preview for list responses.
type ScheduleSummary struct {
	Schedule
	Provider        string `db:"provider" json:"provider"`
	ProviderUserID  string `db:"provider_user_id" json:"provider_user_id"`
	ContentPreview  string `db:"preview_url" json:"content_preview"`
	ContentCaption  string `db:"caption" json:"content_caption"`
	AccountUsername string `db:"account_username" json:"account_username"`
}
