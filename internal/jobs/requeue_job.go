package job

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/service"
)

// RequeueJob recovers schedules the queue lost track of: PENDING rows whose
// fire time passed without an enqueue, and QUEUED or POSTING rows that
// stopped moving (a lost enqueue, or a worker that died mid-claim).
type RequeueJob struct {
	sr      repository.ScheduleRepository
	enqueue service.EnqueueFunc
}

// stuckGrace must outlast asynq's retry backoff at the configured attempt
// ceiling, or the sweep races retries that are merely slow.
const stuckGrace = 15 * time.Minute

func NewRequeueJob(sr repository.ScheduleRepository, enqueue service.EnqueueFunc) *RequeueJob {
	return &RequeueJob{sr: sr, enqueue: enqueue}
}

func (c *RequeueJob) RequeueStale() {
	ctx := context.Background()

	// A minute of grace keeps freshly committed rows out of the sweep.
	stale, err := c.sr.ListStalePending(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, schedule := range stale {
		if err := c.enqueue(schedule.ID, time.Now()); err != nil {
			slog.Info(err.Error())
			continue
		}
		log.Printf("Requeued stale schedule %d", schedule.ID)
	}

	stuck, err := c.sr.ListStuck(ctx, time.Now().Add(-stuckGrace))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, schedule := range stuck {
		// A stranded POSTING claim flips back to QUEUED so the next
		// worker's claim can win. A double enqueue is safe either way:
		// the claim guard lets only one fire through.
		if schedule.Status == models.ScheduleStatusPosting {
			if err := c.sr.UpdateStatus(ctx, schedule.ID, models.ScheduleStatusQueued); err != nil {
				slog.Info(err.Error())
				continue
			}
		}
		if err := c.enqueue(schedule.ID, time.Now()); err != nil {
			slog.Info(err.Error())
			continue
		}
		log.Printf("Requeued stuck schedule %d (was %s)", schedule.ID, schedule.Status)
	}
}
