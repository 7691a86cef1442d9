package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/notify"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/transfer"
)

// EnqueueFunc hands a persisted schedule to the delayed job queue. Wired in
// from the composition root so the service stays queue-agnostic.
type EnqueueFunc func(scheduleID int64, fireAt time.Time) error

type ScheduleService interface {
	Create(ctx context.Context, userID int64, req *transfer.ScheduleCreation) ([]*models.Schedule, error)
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.ScheduleSummary, error)
	ListByDate(ctx context.Context, userID int64, date string) ([]*models.ScheduleSummary, error)
	Resume(ctx context.Context, userID, scheduleID int64) (*models.Schedule, error)
}

type scheduleService struct {
	db       *sql.DB
	sr       repository.ScheduleRepository
	cr       repository.ContentItemRepository
	ar       repository.SocialAccountRepository
	connect  ConnectService
	notifier *notify.Notifier
	enqueue  EnqueueFunc
}

func NewScheduleService(
	db *sql.DB,
	sr repository.ScheduleRepository,
	cr repository.ContentItemRepository,
	ar repository.SocialAccountRepository,
	connect ConnectService,
	notifier *notify.Notifier,
	enqueue EnqueueFunc) ScheduleService {
	return &scheduleService{
		db:       db,
		sr:       sr,
		cr:       cr,
		ar:       ar,
		connect:  connect,
		notifier: notifier,
		enqueue:  enqueue,
	}
}

// Create fans one submission out into a schedule row per target account.
// The content item and every schedule row commit in a single transaction;
// queue jobs and events only go out after the commit. A crash in the gap
// between commit and enqueue is picked up later by the pending sweep.
func (s *scheduleService) Create(ctx context.Context, userID int64, req *transfer.ScheduleCreation) ([]*models.Schedule, error) {
	if len(req.AccountIDs) == 0 {
		return nil, errs.Validation("at least one account id is required")
	}

	fireAt, err := time.Parse(time.RFC3339, req.ScheduledFor)
	if err != nil {
		return nil, errs.Validation("scheduled_for must be an ISO 8601 timestamp: %v", err)
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, errs.Validation("unknown timezone %s", req.Timezone)
		}
	}
	switch req.RepeatRule {
	case models.RepeatNone, models.RepeatDaily, models.RepeatWeekly:
	default:
		return nil, errs.Validation("unknown repeat rule %s", req.RepeatRule)
	}

	accounts, err := s.resolveAccounts(ctx, userID, req.AccountIDs)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, errs.ErrNoActiveAccounts
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	itemID, createdItem, err := s.resolveContentItem(ctx, tx, userID, req)
	if err != nil {
		return nil, err
	}

	schedules := make([]*models.Schedule, 0, len(accounts))
	for _, account := range accounts {
		schedule := &models.Schedule{
			UserID:          userID,
			ContentItemID:   itemID,
			SocialAccountID: account.ID,
			ScheduledFor:    fireAt,
			Timezone:        req.Timezone,
			Status:          models.ScheduleStatusPending,
			RepeatRule:      req.RepeatRule,
		}

		id, err := s.sr.Create(ctx, tx, schedule)
		if err != nil {
			return nil, err
		}
		schedule.ID = id
		schedules = append(schedules, schedule)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if createdItem != nil {
		s.notifier.Publish(notify.TypeContentCreated, userID, createdItem)
	}
	for _, schedule := range schedules {
		if err := s.enqueue(schedule.ID, schedule.ScheduledFor); err != nil {
			// Row is committed; the stale-pending sweep will requeue it.
			slog.Info(fmt.Sprintf("enqueue for schedule %d failed: %v", schedule.ID, err))
		}
		s.notifier.Publish(notify.TypeScheduleCreated, userID, schedule)
	}

	return schedules, nil
}

// resolveAccounts maps caller-supplied account ids onto active accounts.
// Numeric ids load directly; anything else is treated as a provider key
// from an older client and rematerialized from the stored credential.
func (s *scheduleService) resolveAccounts(ctx context.Context, userID int64, rawIDs []string) ([]*models.SocialAccount, error) {
	var numeric []int64
	accounts := make([]*models.SocialAccount, 0, len(rawIDs))
	seen := make(map[int64]struct{})

	for _, raw := range rawIDs {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			numeric = append(numeric, id)
			continue
		}

		if _, found := providers.Lookup(raw); !found {
			return nil, errs.Validation("unknown account id %q", raw)
		}
		account, err := s.connect.Rematerialize(ctx, userID, raw)
		if err != nil {
			slog.Info(fmt.Sprintf("rematerializing %s for user %d failed: %v", raw, userID, err))
			continue
		}
		if _, dup := seen[account.ID]; !dup {
			seen[account.ID] = struct{}{}
			accounts = append(accounts, account)
		}
	}

	if len(numeric) > 0 {
		loaded, err := s.ar.ListActiveByIDs(ctx, userID, numeric)
		if err != nil {
			return nil, err
		}
		for _, account := range loaded {
			if _, dup := seen[account.ID]; !dup {
				seen[account.ID] = struct{}{}
				accounts = append(accounts, account)
			}
		}
	}

	return accounts, nil
}

// resolveContentItem returns the content item id to schedule against, plus
// the item itself when it was created here rather than referenced.
func (s *scheduleService) resolveContentItem(ctx context.Context, tx *sql.Tx, userID int64, req *transfer.ScheduleCreation) (int64, *models.ContentItem, error) {
	if req.ContentItemID != 0 {
		owned, err := s.cr.CheckByUserID(ctx, req.ContentItemID, userID)
		if err != nil {
			return 0, nil, err
		}
		if !owned {
			return 0, nil, errs.NotFound("content item")
		}
		return req.ContentItemID, nil, nil
	}

	if req.Content == nil {
		return 0, nil, errs.Validation("either content_item_id or inline content is required")
	}

	assets := models.ContentAssets{
		Caption:     req.Content.Caption,
		Hashtags:    req.Content.Hashtags,
		Images:      req.Content.Images,
		Carousel:    req.Content.Carousel,
		Story:       req.Content.Story,
		VideoURL:    req.Content.VideoURL,
		Inspiration: req.Content.Inspiration,
		Templates:   req.Content.Templates,
	}

	item := &models.ContentItem{
		UserID:      userID,
		ContentType: contentType(assets),
		Status:      models.ContentStatusGenerated,
		Assets:      assets,
		PreviewURL:  assets.PreviewURL(),
		GeneratedBy: req.Content.GeneratedBy,
	}

	id, err := s.cr.Create(ctx, tx, item)
	if err != nil {
		return 0, nil, err
	}
	item.ID = id
	return id, item, nil
}

func contentType(assets models.ContentAssets) string {
	switch {
	case assets.VideoURL != "":
		return "video"
	case len(assets.Carousel) > 0:
		return "carousel"
	case len(assets.Story) > 0:
		return "story"
	case len(assets.Images) > 0:
		return "image"
	default:
		return "text"
	}
}

func (s *scheduleService) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.ScheduleSummary, error) {
	if len(ids) == 0 {
		return nil, errs.Validation("at least one schedule id is required")
	}
	return s.sr.ListByIDs(ctx, userID, ids)
}

func (s *scheduleService) ListByDate(ctx context.Context, userID int64, date string) ([]*models.ScheduleSummary, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, errs.Validation("date must be YYYY-MM-DD: %v", err)
	}
	return s.sr.ListByDate(ctx, userID, day)
}

// Resume moves a paused or failed schedule back into the queue for another
// run of attempts.
func (s *scheduleService) Resume(ctx context.Context, userID, scheduleID int64) (*models.Schedule, error) {
	schedule, err := s.sr.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil || schedule.UserID != userID {
		return nil, errs.NotFound("schedule")
	}
	if schedule.Status != models.ScheduleStatusPaused && schedule.Status != models.ScheduleStatusFailed {
		return nil, errs.Validation("schedule is %s, only paused or failed schedules resume", schedule.Status)
	}

	previous := schedule.Status
	if err := s.sr.UpdateStatus(ctx, scheduleID, models.ScheduleStatusQueued); err != nil {
		return nil, err
	}
	schedule.Status = models.ScheduleStatusQueued

	if err := s.enqueue(scheduleID, time.Now()); err != nil {
		// Put the row back so a later resume is not rejected as
		// already queued.
		if uerr := s.sr.UpdateStatus(ctx, scheduleID, previous); uerr != nil {
			slog.Info(uerr.Error())
		}
		return nil, err
	}
	s.notifier.Publish(notify.TypeScheduleUpdated, userID, schedule)

	return schedule, nil
}
