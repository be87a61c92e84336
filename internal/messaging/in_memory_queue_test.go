package messaging_test

import (
	"classifier-backend/internal/messaging"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := messaging.NewInMemoryQueue(2)

	modelId := uuid.New()
	event := messaging.JobEvent{
		Type:      messaging.JobReconciled,
		TaskId:    uuid.New(),
		UserId:    uuid.New(),
		ModelId:   &modelId,
		Dataset:   "mnist",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, queue.PublishJobEvent(context.Background(), event))

	d := <-queue.Deliveries()
	received, err := d.Event()
	require.NoError(t, err)
	assert.Equal(t, event, received)
	assert.NoError(t, d.Ack())
}

func TestInMemoryQueueDropsWhenFull(t *testing.T) {
	queue := messaging.NewInMemoryQueue(1)

	require.NoError(t, queue.PublishJobEvent(context.Background(), messaging.JobEvent{Type: messaging.JobStarted}))
	require.NoError(t, queue.PublishJobEvent(context.Background(), messaging.JobEvent{Type: messaging.JobDiscarded}))

	queue.Close()
	require.NoError(t, queue.PublishJobEvent(context.Background(), messaging.JobEvent{Type: messaging.JobStarted}))

	count := 0
	for range queue.Deliveries() {
		count++
	}
	assert.Equal(t, 1, count)
}
