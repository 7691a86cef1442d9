package notify

import (
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Event types emitted on content/schedule/post lifecycle transitions.
const (
	TypeScheduleCreated = "schedule.created"
	TypeScheduleUpdated = "schedule.updated"
	TypeScheduleFailed  = "schedule.failed"
	TypePostCreated     = "post.created"
	TypeContentCreated  = "content.created"
)

type Event struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	UserID  int64       `json:"user_id"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// Notifier is an in-process publish/subscribe bus keyed by user. Publish is
// fire and forget: a subscriber whose buffer is full misses the event
// rather than blocking the publish path.
type Notifier struct {
	mu   sync.RWMutex
	subs map[int64]map[chan Event]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int64]map[chan Event]struct{})}
}

func (n *Notifier) Publish(eventType string, userID int64, payload interface{}) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return
	}

	event := Event{
		ID:      id,
		Type:    eventType,
		UserID:  userID,
		Payload: payload,
		At:      time.Now(),
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.subs[userID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of the user's events and an unsubscribe
// function. The channel is closed on unsubscribe.
func (n *Notifier) Subscribe(userID int64) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	n.mu.Lock()
	if n.subs[userID] == nil {
		n.subs[userID] = make(map[chan Event]struct{})
	}
	n.subs[userID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[userID], ch)
			if len(n.subs[userID]) == 0 {
				delete(n.subs, userID)
			}
			n.mu.Unlock()
			close(ch)
		})
	}

	return ch, unsubscribe
}
