package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspost-io/crosspost/internal/errs"
	"github.com/crosspost-io/crosspost/internal/models"
	"github.com/crosspost-io/crosspost/internal/notify"
	"github.com/crosspost-io/crosspost/internal/providers"
	"github.com/crosspost-io/crosspost/internal/transfer"
)

type fakeScheduleRepo struct {
	schedules map[int64]*models.Schedule
	nextID    int64
	statuses  map[int64]string
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{
		schedules: make(map[int64]*models.Schedule),
		nextID:    1,
		statuses:  make(map[int64]string),
	}
}

func (f *fakeScheduleRepo) Create(ctx context.Context, tx *sql.Tx, s *models.Schedule) (int64, error) {
	copied := *s
	copied.ID = f.nextID
	f.nextID++
	f.schedules[copied.ID] = &copied
	return copied.ID, nil
}

func (f *fakeScheduleRepo) GetByID(ctx context.Context, id int64) (*models.Schedule, error) {
	return f.schedules[id], nil
}

func (f *fakeScheduleRepo) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.ScheduleSummary, error) {
	var out []*models.ScheduleSummary
	for _, id := range ids {
		if s, ok := f.schedules[id]; ok && s.UserID == userID {
			out = append(out, &models.ScheduleSummary{Schedule: *s})
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) ListByDate(ctx context.Context, userID int64, day time.Time) ([]*models.ScheduleSummary, error) {
	return nil, nil
}

func (f *fakeScheduleRepo) ClaimPosting(ctx context.Context, id int64) (bool, error) {
	s, ok := f.schedules[id]
	if !ok {
		return false, nil
	}
	if s.Status != models.ScheduleStatusPending && s.Status != models.ScheduleStatusQueued {
		return false, nil
	}
	s.Status = models.ScheduleStatusPosting
	return true, nil
}

func (f *fakeScheduleRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	f.statuses[id] = status
	if s, ok := f.schedules[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeScheduleRepo) RecordFailure(ctx context.Context, id int64, status, lastError string) (int, error) {
	s, ok := f.schedules[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	s.Attempts++
	s.Status = status
	s.LastError = lastError
	return s.Attempts, nil
}

func (f *fakeScheduleRepo) ListStalePending(ctx context.Context, firedBefore time.Time) ([]*models.Schedule, error) {
	return nil, nil
}

func (f *fakeScheduleRepo) ListStuck(ctx context.Context, updatedBefore time.Time) ([]*models.Schedule, error) {
	return nil, nil
}

func (f *fakeScheduleRepo) RemoveByUserID(ctx context.Context, userID int64) error {
	return nil
}

type fakeContentRepo struct {
	items  map[int64]*models.ContentItem
	nextID int64
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{items: make(map[int64]*models.ContentItem), nextID: 1}
}

func (f *fakeContentRepo) Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (int64, error) {
	copied := *item
	copied.ID = f.nextID
	f.nextID++
	f.items[copied.ID] = &copied
	return copied.ID, nil
}

func (f *fakeContentRepo) GetByID(ctx context.Context, id int64) (*models.ContentItem, error) {
	return f.items[id], nil
}

func (f *fakeContentRepo) CheckByUserID(ctx context.Context, itemID, userID int64) (bool, error) {
	item, ok := f.items[itemID]
	return ok && item.UserID == userID, nil
}

// fakeConnect satisfies ConnectService for fan-out tests; only
// Rematerialize matters here.
type fakeConnect struct {
	rematerialized map[string]*models.SocialAccount
	calls          []string
}

func (f *fakeConnect) BeginConnect(ctx context.Context, userID int64, provider, action, origin string) (string, error) {
	return "", nil
}

func (f *fakeConnect) CompleteConnect(ctx context.Context, provider, code, state string) error {
	return nil
}

func (f *fakeConnect) ConnectBluesky(ctx context.Context, userID int64, creds *transfer.BlueskyCredentials) error {
	return nil
}

func (f *fakeConnect) EnsureFreshToken(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	return acc, nil
}

func (f *fakeConnect) Rematerialize(ctx context.Context, userID int64, provider string) (*models.SocialAccount, error) {
	f.calls = append(f.calls, provider)
	if acc, ok := f.rematerialized[provider]; ok {
		return acc, nil
	}
	return nil, errs.NotFound("no stored credential")
}

func (f *fakeConnect) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (f *fakeConnect) Disconnect(ctx context.Context, userID int64, provider string) error {
	return nil
}

type enqueueRecorder struct {
	calls []int64
	err   error
}

func (e *enqueueRecorder) enqueue(scheduleID int64, fireAt time.Time) error {
	e.calls = append(e.calls, scheduleID)
	return e.err
}

type scheduleFixture struct {
	svc      ScheduleService
	mock     sqlmock.Sqlmock
	sr       *fakeScheduleRepo
	cr       *fakeContentRepo
	ar       *fakeAccountRepo
	connect  *fakeConnect
	notifier *notify.Notifier
	enqueued *enqueueRecorder
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &scheduleFixture{
		mock:     mock,
		sr:       newFakeScheduleRepo(),
		cr:       newFakeContentRepo(),
		ar:       newFakeAccountRepo(),
		connect:  &fakeConnect{rematerialized: make(map[string]*models.SocialAccount)},
		notifier: notify.NewNotifier(),
		enqueued: &enqueueRecorder{},
	}
	f.svc = NewScheduleService(db, f.sr, f.cr, f.ar, f.connect, f.notifier, f.enqueued.enqueue)
	return f
}

func (f *scheduleFixture) addActiveAccount(t *testing.T, provider string) *models.SocialAccount {
	t.Helper()
	id, err := f.ar.Upsert(context.Background(), nil, &models.SocialAccount{
		UserID:         42,
		Provider:       provider,
		ProviderUserID: "pid-" + provider,
		Active:         true,
	})
	require.NoError(t, err)
	return f.ar.accounts[id]
}

func validRequest(accountIDs []string) *transfer.ScheduleCreation {
	return &transfer.ScheduleCreation{
		AccountIDs:   accountIDs,
		ScheduledFor: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Timezone:     "UTC",
		Content: &transfer.ContentPayload{
			Caption:  "hello world",
			Hashtags: []string{"golang"},
			Images:   []string{"https://cdn.example.com/a.jpg"},
		},
	}
}

func TestCreateFansOutPerAccount(t *testing.T) {
	f := newScheduleFixture(t)
	first := f.addActiveAccount(t, providers.Twitter)
	second := f.addActiveAccount(t, providers.Mastodon)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	events, unsubscribe := f.notifier.Subscribe(42)
	defer unsubscribe()

	schedules, err := f.svc.Create(context.Background(), 42, validRequest([]string{"1", "2"}))
	require.NoError(t, err)
	require.Len(t, schedules, 2)

	// One shared content item, one schedule row per account.
	assert.Len(t, f.cr.items, 1)
	targets := []int64{schedules[0].SocialAccountID, schedules[1].SocialAccountID}
	assert.ElementsMatch(t, []int64{first.ID, second.ID}, targets)
	for _, s := range schedules {
		assert.Equal(t, models.ScheduleStatusPending, s.Status)
		assert.Equal(t, schedules[0].ContentItemID, s.ContentItemID)
	}

	// One queue job per schedule, a content.created event for the new item
	// and a schedule.created event per schedule.
	assert.Len(t, f.enqueued.calls, 2)
	wantEvents := []string{notify.TypeContentCreated, notify.TypeScheduleCreated, notify.TypeScheduleCreated}
	for _, want := range wantEvents {
		select {
		case event := <-events:
			assert.Equal(t, want, event.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", want)
		}
	}

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateWithNoActiveAccounts(t *testing.T) {
	f := newScheduleFixture(t)

	_, err := f.svc.Create(context.Background(), 42, validRequest([]string{"99"}))
	assert.ErrorIs(t, err, errs.ErrNoActiveAccounts)
	assert.Empty(t, f.enqueued.calls)
}

func TestCreateValidation(t *testing.T) {
	f := newScheduleFixture(t)
	f.addActiveAccount(t, providers.Twitter)

	_, err := f.svc.Create(context.Background(), 42, &transfer.ScheduleCreation{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	req := validRequest([]string{"1"})
	req.ScheduledFor = "tomorrow at noon"
	_, err = f.svc.Create(context.Background(), 42, req)
	assert.ErrorIs(t, err, errs.ErrValidation)

	req = validRequest([]string{"1"})
	req.Timezone = "Mars/Olympus_Mons"
	_, err = f.svc.Create(context.Background(), 42, req)
	assert.ErrorIs(t, err, errs.ErrValidation)

	req = validRequest([]string{"1"})
	req.RepeatRule = "hourly"
	_, err = f.svc.Create(context.Background(), 42, req)
	assert.ErrorIs(t, err, errs.ErrValidation)

	req = validRequest([]string{"1"})
	req.Content = nil
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Create(context.Background(), 42, req)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreateResolvesProviderKeyIDs(t *testing.T) {
	f := newScheduleFixture(t)

	healed := &models.SocialAccount{ID: 7, UserID: 42, Provider: providers.LinkedIn, Active: true}
	f.connect.rematerialized[providers.LinkedIn] = healed

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	schedules, err := f.svc.Create(context.Background(), 42, validRequest([]string{providers.LinkedIn}))
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	assert.Equal(t, []string{providers.LinkedIn}, f.connect.calls)
	assert.Equal(t, int64(7), schedules[0].SocialAccountID)
}

func TestCreateRejectsUnknownAccountID(t *testing.T) {
	f := newScheduleFixture(t)

	_, err := f.svc.Create(context.Background(), 42, validRequest([]string{"friendster"}))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreateWithExistingContentItem(t *testing.T) {
	f := newScheduleFixture(t)
	f.addActiveAccount(t, providers.Twitter)

	itemID, err := f.cr.Create(context.Background(), nil, &models.ContentItem{UserID: 42})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	req := validRequest([]string{"1"})
	req.ContentItemID = itemID
	req.Content = nil

	schedules, err := f.svc.Create(context.Background(), 42, req)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, itemID, schedules[0].ContentItemID)
	assert.Len(t, f.cr.items, 1)
}

func TestCreateRejectsForeignContentItem(t *testing.T) {
	f := newScheduleFixture(t)
	f.addActiveAccount(t, providers.Twitter)

	itemID, err := f.cr.Create(context.Background(), nil, &models.ContentItem{UserID: 1000})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest([]string{"1"})
	req.ContentItemID = itemID
	req.Content = nil

	_, err = f.svc.Create(context.Background(), 42, req)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResumeRequeuesPausedSchedule(t *testing.T) {
	f := newScheduleFixture(t)

	id, err := f.sr.Create(context.Background(), nil, &models.Schedule{
		UserID: 42,
		Status: models.ScheduleStatusPaused,
	})
	require.NoError(t, err)

	schedule, err := f.svc.Resume(context.Background(), 42, id)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusQueued, schedule.Status)
	assert.Equal(t, []int64{id}, f.enqueued.calls)
}

func TestResumeRestoresStatusWhenEnqueueFails(t *testing.T) {
	f := newScheduleFixture(t)
	f.enqueued.err = errors.New("redis unreachable")

	id, err := f.sr.Create(context.Background(), nil, &models.Schedule{
		UserID: 42,
		Status: models.ScheduleStatusPaused,
	})
	require.NoError(t, err)

	_, err = f.svc.Resume(context.Background(), 42, id)
	require.Error(t, err)

	// The row rolled back to paused, so the resume can be retried.
	assert.Equal(t, models.ScheduleStatusPaused, f.sr.schedules[id].Status)

	f.enqueued.err = nil
	schedule, err := f.svc.Resume(context.Background(), 42, id)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusQueued, schedule.Status)
}

func TestResumeRejectsRunningSchedule(t *testing.T) {
	f := newScheduleFixture(t)

	id, err := f.sr.Create(context.Background(), nil, &models.Schedule{
		UserID: 42,
		Status: models.ScheduleStatusPending,
	})
	require.NoError(t, err)

	_, err = f.svc.Resume(context.Background(), 42, id)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestResumeHidesForeignSchedule(t *testing.T) {
	f := newScheduleFixture(t)

	id, err := f.sr.Create(context.Background(), nil, &models.Schedule{
		UserID: 7,
		Status: models.ScheduleStatusPaused,
	})
	require.NoError(t, err)

	_, err = f.svc.Resume(context.Background(), 42, id)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
