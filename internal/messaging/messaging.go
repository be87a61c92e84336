package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobEventsQueue  = "training_events"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

const (
	JobStarted    = "job_started"
	JobReconciled = "job_reconciled"
	JobDiscarded  = "job_discarded"
)

// JobEvent describes a transition in a training job's lifecycle.
type JobEvent struct {
	Type    string
	TaskId  uuid.UUID
	UserId  uuid.UUID
	ModelId *uuid.UUID `json:",omitempty"`
	Dataset string     `json:",omitempty"`
	Detail  string     `json:",omitempty"`

	Timestamp time.Time
}

type Publisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error

	Close()
}

// Delivery is a job event taken off a queue. Every delivery must be acked
// or nacked.
type Delivery interface {
	Event() (JobEvent, error)

	Ack() error

	Nack(requeue bool) error
}

type Receiver interface {
	Deliveries() <-chan Delivery

	Close()
}

func decodeEvent(body []byte) (JobEvent, error) {
	var event JobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return JobEvent{}, fmt.Errorf("error decoding job event: %w", err)
	}
	return event, nil
}
