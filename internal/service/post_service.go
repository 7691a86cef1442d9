package service

import (
	"context"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/repository"
)

type PostService interface {
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	GetForSchedule(ctx context.Context, userID, scheduleID int64) (*models.Post, error)
}

type postService struct {
	pr repository.PostRepository
	sr repository.ScheduleRepository
}

func NewPostService(pr repository.PostRepository, sr repository.ScheduleRepository) PostService {
	return &postService{pr: pr, sr: sr}
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	return s.pr.ListByUserID(ctx, userID)
}

// GetForSchedule returns the terminal publish record of one schedule, or a
// not-found error while the schedule is still in flight.
func (s *postService) GetForSchedule(ctx context.Context, userID, scheduleID int64) (*models.Post, error) {
	schedule, err := s.sr.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil || schedule.UserID != userID {
		return nil, errs.NotFound("schedule")
	}

	post, err := s.pr.GetByScheduleID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, errs.NotFound("post")
	}
	return post, nil
}
