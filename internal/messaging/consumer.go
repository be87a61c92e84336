package messaging

import (
	"context"
	"log/slog"
)

type Handler func(ctx context.Context, event JobEvent) error

// Consume passes each delivered event to handle until ctx is done or the
// receiver is closed. Handled events are acked. Events that cannot be decoded
// or that handle rejects are nacked without requeue.
func Consume(ctx context.Context, receiver Receiver, handle Handler) {
	deliveries := receiver.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			event, err := d.Event()
			if err == nil {
				err = handle(ctx, event)
			}

			if err != nil {
				slog.Error("error handling job event", "type", event.Type, "task_id", event.TaskId, "error", err)
				if err := d.Nack(false); err != nil {
					slog.Error("error nacking job event", "error", err)
				}
				continue
			}

			if err := d.Ack(); err != nil {
				slog.Error("error acking job event", "type", event.Type, "task_id", event.TaskId, "error", err)
			}
		}
	}
}

// LogEvent writes the event to the structured log.
func LogEvent(ctx context.Context, event JobEvent) error {
	attrs := []any{"type", event.Type, "task_id", event.TaskId, "user_id", event.UserId, "timestamp", event.Timestamp}
	if event.ModelId != nil {
		attrs = append(attrs, "model_id", *event.ModelId)
	}
	if event.Dataset != "" {
		attrs = append(attrs, "dataset", event.Dataset)
	}
	if event.Detail != "" {
		attrs = append(attrs, "detail", event.Detail)
	}

	slog.InfoContext(ctx, "job event", attrs...)
	return nil
}
