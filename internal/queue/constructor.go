package queue

import (
	"github.com/crosspost-io/crosspost/internal/notify"
	"github.com/crosspost-io/crosspost/internal/publish"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/service"
)

const TaskTypePublishSchedule = "schedule:publish"

type PublishSchedulePayload struct {
	ScheduleID int64 `json:"schedule_id"`
}

// Queue owns the fire-time side of a schedule: claim, publish, record,
// notify.
type Queue struct {
	sr          repository.ScheduleRepository
	ar          repository.SocialAccountRepository
	cr          repository.ContentItemRepository
	pr          repository.PostRepository
	adapters    publish.Registry
	connect     service.ConnectService
	notifier    *notify.Notifier
	enqueue     service.EnqueueFunc
	secretKey   []byte
	maxAttempts int
}

func NewQueue(
	sr repository.ScheduleRepository,
	ar repository.SocialAccountRepository,
	cr repository.ContentItemRepository,
	pr repository.PostRepository,
	adapters publish.Registry,
	connect service.ConnectService,
	notifier *notify.Notifier,
	enqueue service.EnqueueFunc,
	secretKey string,
	maxAttempts int) *Queue {
	return &Queue{
		sr:          sr,
		ar:          ar,
		cr:          cr,
		pr:          pr,
		adapters:    adapters,
		connect:     connect,
		notifier:    notifier,
		enqueue:     enqueue,
		secretKey:   []byte(secretKey),
		maxAttempts: maxAttempts,
	}
}
