package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/crosspost-io/crosspost/internal/notify"
)

const heartbeatInterval = 15 * time.Second

type EventsHandler struct {
	notifier *notify.Notifier
}

func NewEventsHandler(notifier *notify.Notifier) *EventsHandler {
	return &EventsHandler{notifier: notifier}
}

// Stream serves the user's lifecycle events over SSE. Heartbeat comments
// keep intermediaries from reaping the idle connection; the subscription
// is torn down when the client goes away.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	userID := GetUserID(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	events, unsubscribe := h.notifier.Subscribe(userID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case event, open := <-events:
				if !open {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
				if err := w.Flush(); err != nil {
					return
				}
			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}
