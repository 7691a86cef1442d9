package queue

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueueSchedule registers one delayed publish task for a schedule.
func EnqueueSchedule(client *asynq.Client, payload PublishSchedulePayload, fireAt time.Time) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishSchedule, taskPayload, asynq.MaxRetry(10))

	if fireAt.Before(time.Now()) {
		fireAt = time.Now()
	}
	if _, err := client.Enqueue(task, asynq.ProcessAt(fireAt)); err != nil {
		return err
	}

	log.Printf("Publish task scheduled: %+v at %s", payload, fireAt.Format(time.RFC3339))
	return nil
}
