package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/repository"
)

type sweepScheduleRepo struct {
	repository.ScheduleRepository

	stale    []*models.Schedule
	stuck    []*models.Schedule
	statuses map[int64]string
}

func (r *sweepScheduleRepo) ListStalePending(ctx context.Context, firedBefore time.Time) ([]*models.Schedule, error) {
	return r.stale, nil
}

func (r *sweepScheduleRepo) ListStuck(ctx context.Context, updatedBefore time.Time) ([]*models.Schedule, error) {
	return r.stuck, nil
}

func (r *sweepScheduleRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.statuses[id] = status
	return nil
}

func TestRequeueStaleRecoversPendingAndStuckRows(t *testing.T) {
	repo := &sweepScheduleRepo{
		stale: []*models.Schedule{
			{ID: 1, Status: models.ScheduleStatusPending},
		},
		stuck: []*models.Schedule{
			{ID: 2, Status: models.ScheduleStatusQueued},
			{ID: 3, Status: models.ScheduleStatusPosting},
		},
		statuses: map[int64]string{},
	}

	var enqueued []int64
	job := NewRequeueJob(repo, func(scheduleID int64, fireAt time.Time) error {
		enqueued = append(enqueued, scheduleID)
		return nil
	})

	job.RequeueStale()

	assert.Equal(t, []int64{1, 2, 3}, enqueued)
	// Only the lost posting claim flips back to queued; the queued row is
	// re-enqueued as is.
	assert.Equal(t, map[int64]string{3: models.ScheduleStatusQueued}, repo.statuses)
}

func TestRequeueStaleKeepsSweepingPastEnqueueErrors(t *testing.T) {
	repo := &sweepScheduleRepo{
		stale: []*models.Schedule{
			{ID: 1, Status: models.ScheduleStatusPending},
		},
		stuck: []*models.Schedule{
			{ID: 2, Status: models.ScheduleStatusQueued},
		},
		statuses: map[int64]string{},
	}

	var enqueued []int64
	job := NewRequeueJob(repo, func(scheduleID int64, fireAt time.Time) error {
		if scheduleID == 1 {
			return errors.New("queue unavailable")
		}
		enqueued = append(enqueued, scheduleID)
		return nil
	})

	job.RequeueStale()

	assert.Equal(t, []int64{2}, enqueued)
}
