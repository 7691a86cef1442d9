package queue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/notify"
	"github.com/crosspost-io/crosspost/internal/publish"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/internal/transfer"
	"github.com/crosspost-io/crosspost/pkg/utils"
)

const workerSecretKey = "0123456789abcdef0123456789abcdef"

type memScheduleRepo struct {
	schedules map[int64]*models.Schedule
	nextID    int64
}

func newMemScheduleRepo() *memScheduleRepo {
	return &memScheduleRepo{schedules: make(map[int64]*models.Schedule), nextID: 1}
}

func (m *memScheduleRepo) Create(ctx context.Context, tx *sql.Tx, s *models.Schedule) (int64, error) {
	copied := *s
	copied.ID = m.nextID
	m.nextID++
	m.schedules[copied.ID] = &copied
	return copied.ID, nil
}

func (m *memScheduleRepo) GetByID(ctx context.Context, id int64) (*models.Schedule, error) {
	return m.schedules[id], nil
}

func (m *memScheduleRepo) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.ScheduleSummary, error) {
	return nil, nil
}

func (m *memScheduleRepo) ListByDate(ctx context.Context, userID int64, day time.Time) ([]*models.ScheduleSummary, error) {
	return nil, nil
}

func (m *memScheduleRepo) ClaimPosting(ctx context.Context, id int64) (bool, error) {
	s, ok := m.schedules[id]
	if !ok {
		return false, nil
	}
	if s.Status != models.ScheduleStatusPending && s.Status != models.ScheduleStatusQueued {
		return false, nil
	}
	s.Status = models.ScheduleStatusPosting
	return true, nil
}

func (m *memScheduleRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	if s, ok := m.schedules[id]; ok {
		s.Status = status
	}
	return nil
}

func (m *memScheduleRepo) RecordFailure(ctx context.Context, id int64, status, lastError string) (int, error) {
	s, ok := m.schedules[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	s.Attempts++
	s.Status = status
	s.LastError = lastError
	return s.Attempts, nil
}

func (m *memScheduleRepo) ListStalePending(ctx context.Context, firedBefore time.Time) ([]*models.Schedule, error) {
	return nil, nil
}

func (m *memScheduleRepo) ListStuck(ctx context.Context, updatedBefore time.Time) ([]*models.Schedule, error) {
	return nil, nil
}

func (m *memScheduleRepo) RemoveByUserID(ctx context.Context, userID int64) error {
	return nil
}

type memAccountRepo struct {
	accounts map[int64]*models.SocialAccount
}

func (m *memAccountRepo) Upsert(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return sa.ID, nil
}

func (m *memAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return m.accounts[id], nil
}

func (m *memAccountRepo) GetByUserProvider(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error) {
	return nil, nil
}

func (m *memAccountRepo) ListActiveByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (m *memAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (m *memAccountRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (m *memAccountRepo) UpdateTokens(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) (bool, error) {
	return true, nil
}

func (m *memAccountRepo) UpdateMetadata(ctx context.Context, id int64, meta models.AccountMetadata) error {
	return nil
}

func (m *memAccountRepo) Deactivate(ctx context.Context, userID int64, provider string) error {
	return nil
}

func (m *memAccountRepo) RemoveByUserID(ctx context.Context, userID int64) error {
	return nil
}

type memContentRepo struct {
	items map[int64]*models.ContentItem
}

func (m *memContentRepo) Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (int64, error) {
	return item.ID, nil
}

func (m *memContentRepo) GetByID(ctx context.Context, id int64) (*models.ContentItem, error) {
	return m.items[id], nil
}

func (m *memContentRepo) CheckByUserID(ctx context.Context, itemID, userID int64) (bool, error) {
	return false, nil
}

type memPostRepo struct {
	posts []*models.Post
}

func (m *memPostRepo) Create(ctx context.Context, post *models.Post) (int64, error) {
	copied := *post
	copied.ID = int64(len(m.posts) + 1)
	m.posts = append(m.posts, &copied)
	return copied.ID, nil
}

func (m *memPostRepo) GetByScheduleID(ctx context.Context, scheduleID int64) (*models.Post, error) {
	return nil, nil
}

func (m *memPostRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return m.posts, nil
}

// passthroughConnect hands accounts back untouched.
type passthroughConnect struct{}

func (passthroughConnect) BeginConnect(ctx context.Context, userID int64, provider, action, origin string) (string, error) {
	return "", nil
}

func (passthroughConnect) CompleteConnect(ctx context.Context, provider, code, state string) error {
	return nil
}

func (passthroughConnect) ConnectBluesky(ctx context.Context, userID int64, creds *transfer.BlueskyCredentials) error {
	return nil
}

func (passthroughConnect) EnsureFreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	return acc, nil
}

func (passthroughConnect) Rematerialize(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error) {
	return nil, errs.NotFound("social account")
}

func (passthroughConnect) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (passthroughConnect) Disconnect(ctx context.Context, userID int64, provider string) error {
	return nil
}

type scriptedAdapter struct {
	result *publish.Result
	err    error
	calls  int
}

func (a *scriptedAdapter) Publish(ctx context.Context, acc *models.SocialAccount, creds publish.Credentials, item *models.ContentItem) (*publish.Result, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type workerFixture struct {
	q        *Queue
	sr       *memScheduleRepo
	ar       *memAccountRepo
	pr       *memPostRepo
	adapter  *scriptedAdapter
	notifier *notify.Notifier
	enqueued []int64
}

func newWorkerFixture(t *testing.T, maxAttempts int) *workerFixture {
	t.Helper()

	encrypted, err := utils.Encrypt([]byte("access-token"), []byte(workerSecretKey))
	require.NoError(t, err)

	f := &workerFixture{
		sr: newMemScheduleRepo(),
		ar: &memAccountRepo{accounts: map[int64]*models.SocialAccount{
			1: {
				ID:             1,
				UserID:         42,
				Provider:       providers.Twitter,
				ProviderUserID: "tw-1",
				AccessToken:    encrypted,
				Active:         true,
			},
		}},
		pr:       &memPostRepo{},
		adapter:  &scriptedAdapter{result: &publish.Result{ProviderPostID: "post-1", RawResponse: "{}"}},
		notifier: notify.NewNotifier(),
	}

	cr := &memContentRepo{items: map[int64]*models.ContentItem{
		1: {ID: 1, UserID: 42, Assets: models.ContentAssets{Caption: "hi"}},
	}}

	enqueue := func(scheduleID int64, fireAt time.Time) error {
		f.enqueued = append(f.enqueued, scheduleID)
		return nil
	}

	f.q = NewQueue(f.sr, f.ar, cr, f.pr, publish.Registry{providers.Twitter: f.adapter},
		passthroughConnect{}, f.notifier, enqueue, workerSecretKey, maxAttempts)
	return f
}

func (f *workerFixture) addSchedule(t *testing.T, status, repeat string, attempts int) int64 {
	t.Helper()
	id, err := f.sr.Create(context.Background(), nil, &models.Schedule{
		UserID:          42,
		ContentItemID:   1,
		SocialAccountID: 1,
		ScheduledFor:    time.Now().UTC(),
		Status:          status,
		RepeatRule:      repeat,
		Attempts:        attempts,
	})
	require.NoError(t, err)
	return id
}

func TestPublishScheduleSuccess(t *testing.T) {
	f := newWorkerFixture(t, 5)
	id := f.addSchedule(t, models.ScheduleStatusPending, models.RepeatNone, 0)

	events, unsubscribe := f.notifier.Subscribe(42)
	defer unsubscribe()

	require.NoError(t, f.q.PublishSchedule(context.Background(), id))

	assert.Equal(t, models.ScheduleStatusSuccess, f.sr.schedules[id].Status)
	require.Len(t, f.pr.posts, 1)
	assert.Equal(t, models.PostStatusPublished, f.pr.posts[0].Status)
	assert.Equal(t, "post-1", f.pr.posts[0].ProviderPostID)
	assert.Empty(t, f.enqueued)

	types := []string{(<-events).Type, (<-events).Type}
	assert.Contains(t, types, notify.TypeScheduleUpdated)
	assert.Contains(t, types, notify.TypePostCreated)
}

func TestPublishScheduleSkipsSettledSchedule(t *testing.T) {
	f := newWorkerFixture(t, 5)
	id := f.addSchedule(t, models.ScheduleStatusSuccess, models.RepeatNone, 0)

	require.NoError(t, f.q.PublishSchedule(context.Background(), id))
	assert.Zero(t, f.adapter.calls)
	assert.Empty(t, f.pr.posts)
}

func TestPublishScheduleRollsRepeatForward(t *testing.T) {
	f := newWorkerFixture(t, 5)
	id := f.addSchedule(t, models.ScheduleStatusPending, models.RepeatDaily, 0)
	firedAt := f.sr.schedules[id].ScheduledFor

	require.NoError(t, f.q.PublishSchedule(context.Background(), id))

	require.Len(t, f.sr.schedules, 2)
	next := f.sr.schedules[id+1]
	assert.Equal(t, models.ScheduleStatusPending, next.Status)
	assert.Equal(t, models.RepeatDaily, next.RepeatRule)
	assert.Equal(t, firedAt.Add(24*time.Hour), next.ScheduledFor)
	assert.Equal(t, []int64{next.ID}, f.enqueued)
}

func TestPublishScheduleAuthErrorDoesNotRetry(t *testing.T) {
	f := newWorkerFixture(t, 5)
	f.adapter.err = errs.Auth(providers.Twitter, 401, "token revoked")
	id := f.addSchedule(t, models.ScheduleStatusPending, models.RepeatNone, 0)

	err := f.q.PublishSchedule(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	s := f.sr.schedules[id]
	assert.Equal(t, models.ScheduleStatusFailed, s.Status)
	assert.Equal(t, 1, s.Attempts)
	assert.Contains(t, s.LastError, "token revoked")

	require.Len(t, f.pr.posts, 1)
	assert.Equal(t, models.PostStatusFailed, f.pr.posts[0].Status)
	assert.Equal(t, id, f.pr.posts[0].ScheduleID)
	assert.Contains(t, f.pr.posts[0].Response, "token revoked")
}

func TestPublishScheduleTransientErrorRetries(t *testing.T) {
	f := newWorkerFixture(t, 5)
	f.adapter.err = errs.ProviderAPI(providers.Twitter, 503, "upstream flaking")
	id := f.addSchedule(t, models.ScheduleStatusPending, models.RepeatNone, 0)

	err := f.q.PublishSchedule(context.Background(), id)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	s := f.sr.schedules[id]
	assert.Equal(t, models.ScheduleStatusQueued, s.Status)
	assert.Equal(t, 1, s.Attempts)
	assert.Empty(t, f.pr.posts)
}

func TestPublishSchedulePausesAtAttemptCeiling(t *testing.T) {
	f := newWorkerFixture(t, 3)
	f.adapter.err = errs.ProviderAPI(providers.Twitter, 503, "still flaking")
	id := f.addSchedule(t, models.ScheduleStatusQueued, models.RepeatNone, 2)

	err := f.q.PublishSchedule(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	s := f.sr.schedules[id]
	assert.Equal(t, models.ScheduleStatusPaused, s.Status)
	assert.Equal(t, 3, s.Attempts)

	require.Len(t, f.pr.posts, 1)
	assert.Equal(t, models.PostStatusFailed, f.pr.posts[0].Status)
	assert.Equal(t, id, f.pr.posts[0].ScheduleID)
}

func TestPublishScheduleDisconnectedAccountFailsTerminally(t *testing.T) {
	f := newWorkerFixture(t, 5)
	f.ar.accounts[1].Active = false
	id := f.addSchedule(t, models.ScheduleStatusPending, models.RepeatNone, 0)

	err := f.q.PublishSchedule(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, models.ScheduleStatusFailed, f.sr.schedules[id].Status)
	assert.Zero(t, f.adapter.calls)
}

func TestHandleSchedulePublishTaskDecodesPayload(t *testing.T) {
	f := newWorkerFixture(t, 5)
	id := f.addSchedule(t, models.ScheduleStatusPending, models.RepeatNone, 0)

	payload := []byte(`{"schedule_id":1}`)
	require.NoError(t, f.q.HandleSchedulePublishTask(context.Background(),
		asynq.NewTask(TaskTypePublishSchedule, payload)))
	assert.Equal(t, models.ScheduleStatusSuccess, f.sr.schedules[id].Status)

	err := f.q.HandleSchedulePublishTask(context.Background(),
		asynq.NewTask(TaskTypePublishSchedule, []byte("not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
