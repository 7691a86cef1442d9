package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/notify"
	"github.com/crosspost-io/crosspost/internal/publish"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

// HandleSchedulePublishTask is the asynq entry point for a fired schedule.
func (q *Queue) HandleSchedulePublishTask(ctx context.Context, t *asynq.Task) error {
	var payload PublishSchedulePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling publish payload: %v: %w", err, asynq.SkipRetry)
	}
	return q.PublishSchedule(ctx, payload.ScheduleID)
}

// PublishSchedule runs one publish attempt end to end: claim the schedule,
// freshen the credential, dispatch to the provider adapter, then record the
// outcome. Returning a plain error hands the attempt back to asynq for a
// backed-off retry; terminal outcomes are wrapped in asynq.SkipRetry.
func (q *Queue) PublishSchedule(ctx context.Context, scheduleID int64) error {
	claimed, err := q.sr.ClaimPosting(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("Schedule %d already claimed or settled, skipping", scheduleID)
		return nil
	}

	schedule, err := q.sr.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if schedule == nil {
		return fmt.Errorf("schedule %d vanished after claim: %w", scheduleID, asynq.SkipRetry)
	}

	account, err := q.ar.GetByID(ctx, schedule.SocialAccountID)
	if err != nil {
		return err
	}
	if account == nil || !account.Active {
		return q.fail(ctx, schedule, errs.Auth("", 0, "social account is disconnected"))
	}

	item, err := q.cr.GetByID(ctx, schedule.ContentItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return q.fail(ctx, schedule, errs.Validation("content item %d not found", schedule.ContentItemID))
	}

	account, err = q.connect.EnsureFreshToken(ctx, account)
	if err != nil {
		return q.fail(ctx, schedule, errs.Auth(account.Provider, 0, err.Error()))
	}

	creds, err := q.decryptCredentials(account)
	if err != nil {
		return q.fail(ctx, schedule, err)
	}

	adapter, err := q.adapters.For(account.Provider)
	if err != nil {
		return q.fail(ctx, schedule, err)
	}

	result, err := adapter.Publish(ctx, account, creds, item)
	if err != nil {
		return q.fail(ctx, schedule, err)
	}

	return q.succeed(ctx, schedule, account, result)
}

func (q *Queue) decryptCredentials(account *models.SocialAccount) (publish.Credentials, error) {
	access, err := utils.Decrypt(account.AccessToken, q.secretKey)
	if err != nil {
		return publish.Credentials{}, errs.Storage(err)
	}

	creds := publish.Credentials{AccessToken: access}
	if account.RefreshToken != "" {
		refresh, err := utils.Decrypt(account.RefreshToken, q.secretKey)
		if err != nil {
			return publish.Credentials{}, errs.Storage(err)
		}
		creds.RefreshToken = refresh
	}
	return creds, nil
}

func (q *Queue) succeed(ctx context.Context, schedule *models.Schedule, account *models.SocialAccount, result *publish.Result) error {
	post := &models.Post{
		UserID:         schedule.UserID,
		ScheduleID:     schedule.ID,
		Status:         models.PostStatusPublished,
		ProviderPostID: result.ProviderPostID,
		Response:       result.RawResponse,
	}
	postID, err := q.pr.Create(ctx, post)
	if err != nil {
		return err
	}
	post.ID = postID

	if err := q.sr.UpdateStatus(ctx, schedule.ID, models.ScheduleStatusSuccess); err != nil {
		return err
	}

	log.Printf("Schedule %d published to %s as %s", schedule.ID, account.Provider, result.ProviderPostID)
	q.notifier.Publish(notify.TypeScheduleUpdated, schedule.UserID, map[string]interface{}{
		"schedule_id": schedule.ID,
		"status":      models.ScheduleStatusSuccess,
		"provider":    account.Provider,
	})
	q.notifier.Publish(notify.TypePostCreated, schedule.UserID, post)

	q.rollRepeat(ctx, schedule)
	return nil
}

// rollRepeat materializes the next occurrence of a repeating schedule. A
// failure here only logs: the published post already settled.
func (q *Queue) rollRepeat(ctx context.Context, schedule *models.Schedule) {
	next := schedule.NextOccurrence()
	if next.IsZero() {
		return
	}

	repeat := &models.Schedule{
		UserID:          schedule.UserID,
		ContentItemID:   schedule.ContentItemID,
		SocialAccountID: schedule.SocialAccountID,
		ScheduledFor:    next,
		Timezone:        schedule.Timezone,
		Status:          models.ScheduleStatusPending,
		RepeatRule:      schedule.RepeatRule,
	}

	id, err := q.sr.Create(ctx, nil, repeat)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	repeat.ID = id

	if err := q.enqueue(id, next); err != nil {
		slog.Info(err.Error())
		return
	}
	q.notifier.Publish(notify.TypeScheduleCreated, schedule.UserID, repeat)
}

// fail records the attempt and decides retry policy. Credential and content
// errors never retry; transient errors ride asynq's backoff until the
// attempt ceiling pauses the schedule. Both terminal branches leave a
// failed Post row behind.
func (q *Queue) fail(ctx context.Context, schedule *models.Schedule, cause error) error {
	if !errs.Retryable(cause) {
		if _, err := q.sr.RecordFailure(ctx, schedule.ID, models.ScheduleStatusFailed, cause.Error()); err != nil {
			return err
		}
		q.recordFailedPost(ctx, schedule, cause)
		q.emitFailure(schedule, models.ScheduleStatusFailed, cause)
		return fmt.Errorf("schedule %d failed: %v: %w", schedule.ID, cause, asynq.SkipRetry)
	}

	attempts, err := q.sr.RecordFailure(ctx, schedule.ID, models.ScheduleStatusQueued, cause.Error())
	if err != nil {
		return err
	}

	if attempts >= q.maxAttempts {
		// Ceiling hit: the schedule fails, then parks as paused so a
		// resume can start a fresh run of attempts.
		if err := q.sr.UpdateStatus(ctx, schedule.ID, models.ScheduleStatusFailed); err != nil {
			return err
		}
		if err := q.sr.UpdateStatus(ctx, schedule.ID, models.ScheduleStatusPaused); err != nil {
			return err
		}
		q.recordFailedPost(ctx, schedule, cause)
		q.emitFailure(schedule, models.ScheduleStatusPaused, cause)
		return fmt.Errorf("schedule %d paused after %d attempts: %v: %w", schedule.ID, attempts, cause, asynq.SkipRetry)
	}

	q.emitFailure(schedule, models.ScheduleStatusQueued, cause)
	return fmt.Errorf("schedule %d attempt %d: %w", schedule.ID, attempts, cause)
}

// recordFailedPost writes the terminal attempt record. The schedule status
// already settled, so a write error here only logs.
func (q *Queue) recordFailedPost(ctx context.Context, schedule *models.Schedule, cause error) {
	post := &models.Post{
		UserID:     schedule.UserID,
		ScheduleID: schedule.ID,
		Status:     models.PostStatusFailed,
		Response:   cause.Error(),
	}
	if _, err := q.pr.Create(ctx, post); err != nil {
		slog.Info(err.Error())
	}
}

func (q *Queue) emitFailure(schedule *models.Schedule, status string, cause error) {
	eventType := notify.TypeScheduleUpdated
	if status == models.ScheduleStatusFailed || status == models.ScheduleStatusPaused {
		eventType = notify.TypeScheduleFailed
	}
	q.notifier.Publish(eventType, schedule.UserID, map[string]interface{}{
		"schedule_id": schedule.ID,
		"status":      status,
		"error":       cause.Error(),
	})
}
