//go:build integration
// +build integration

package messaging_test

import (
	"classifier-backend/internal/messaging"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestRabbitMQJobEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.11-management")
	require.NoError(t, err, "Failed to start RabbitMQ container")
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)
	defer receiver.Close()

	event := messaging.JobEvent{
		Type:      messaging.JobStarted,
		TaskId:    uuid.New(),
		UserId:    uuid.New(),
		Dataset:   "mnist",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, publisher.PublishJobEvent(ctx, event))

	select {
	case d := <-receiver.Deliveries():
		received, err := d.Event()
		require.NoError(t, err)
		assert.Equal(t, event, received)

		require.NoError(t, d.Ack())
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for job event")
	}
}

func TestRabbitMQReceiverCloseEndsDeliveries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.11-management")
	require.NoError(t, err, "Failed to start RabbitMQ container")
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	receiver, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		messaging.Consume(ctx, receiver, messaging.LogEvent)
		close(done)
	}()

	receiver.Close()
	receiver.Close()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop after receiver was closed")
	}
}
