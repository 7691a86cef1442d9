package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/service"
)

// TokenRefreshJob sweeps accounts whose tokens are about to lapse and
// refreshes them ahead of their next publish.
type TokenRefreshJob struct {
	sr      repository.SocialAccountRepository
	connect service.ConnectService
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, connect service.ConnectService) *TokenRefreshJob {
	return &TokenRefreshJob{sr: sr, connect: connect}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	accounts, err := c.sr.ListExpiring(ctx, time.Now().Add(30*time.Minute))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := c.connect.EnsureFreshToken(ctx, acc); err != nil {
				slog.Info("Unable to refresh tokens for " + acc.Provider)
			}
		}(acc)
	}

	wg.Wait()
}
