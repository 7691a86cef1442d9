package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/repository"
)

type UserService interface {
	GetUserInfo(ctx context.Context, id int64) (*models.User, error)
	RemoveUser(ctx context.Context, userID int64) error
}

type userService struct {
	u  repository.UserRepository
	sa repository.SocialAccountRepository
	sr repository.ScheduleRepository
}

func NewUserService(u repository.UserRepository, sa repository.SocialAccountRepository, sr repository.ScheduleRepository) UserService {
	return &userService{
		u:  u,
		sa: sa,
		sr: sr,
	}
}

func (s *userService) GetUserInfo(ctx context.Context, id int64) (*models.User, error) {
	user, isExist, err := s.u.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Error getting user info")
	}

	if !isExist {
		err = errors.New("User not found")
		slog.Info(err.Error())
		return nil, fmt.Errorf("User doesn't exist")
	}

	return user, nil
}

// RemoveUser deletes the account and everything hanging off it. Stored
// credentials go first so no publish can fire for a deleted user.
func (s *userService) RemoveUser(ctx context.Context, userID int64) error {
	if err := s.sr.RemoveByUserID(ctx, userID); err != nil {
		return err
	}
	if err := s.sa.RemoveByUserID(ctx, userID); err != nil {
		return err
	}
	return s.u.Remove(ctx, userID)
}
