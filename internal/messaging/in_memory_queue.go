package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

type inMemoryDelivery struct {
	body []byte
}

func (d *inMemoryDelivery) Event() (JobEvent, error) {
	return decodeEvent(d.body)
}

func (d *inMemoryDelivery) Ack() error {
	return nil
}

func (d *inMemoryDelivery) Nack(requeue bool) error {
	return nil
}

// InMemoryQueue is both the publisher and the receiver when no broker is
// configured. Events are dropped when the buffer is full.
type InMemoryQueue struct {
	mu         sync.RWMutex
	deliveries chan Delivery
	closed     bool
}

var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Receiver  = (*InMemoryQueue)(nil)
)

func NewInMemoryQueue(size int) *InMemoryQueue {
	return &InMemoryQueue{
		deliveries: make(chan Delivery, size),
	}
}

func (q *InMemoryQueue) PublishJobEvent(ctx context.Context, event JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding job event: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		slog.Warn("dropping job event published to closed queue", "type", event.Type, "task_id", event.TaskId)
		return nil
	}

	select {
	case q.deliveries <- &inMemoryDelivery{body: body}:
	default:
		slog.Warn("in memory queue is full, dropping job event", "type", event.Type, "task_id", event.TaskId)
	}

	return nil
}

func (q *InMemoryQueue) Deliveries() <-chan Delivery {
	return q.deliveries
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.deliveries)
	}
}
