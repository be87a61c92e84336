package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dialRabbitMQ connects with retries, opens a channel and declares the job
// events queue on it.
func dialRabbitMQ(url string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= MaxConnectRetry; attempt++ {
		if conn, err = amqp.Dial(url); err == nil {
			break
		}
		slog.Warn("unable to reach rabbitmq", "attempt", attempt, "max_attempts", MaxConnectRetry, "error", err)
		if attempt < MaxConnectRetry {
			time.Sleep(RetryDelay)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("unable to reach rabbitmq after %d attempts: %w", MaxConnectRetry, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("error opening rabbitmq channel: %w", err)
	}

	if _, err := channel.QueueDeclare(JobEventsQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("error declaring queue %s: %w", JobEventsQueue, err)
	}

	slog.Info("connected to rabbitmq", "queue", JobEventsQueue)
	return conn, channel, nil
}

// RabbitMQPublisher publishes job events as persistent JSON messages on the
// job events queue, redialing when the broker drops the channel.
type RabbitMQPublisher struct {
	url string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

var _ Publisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(url string) (*RabbitMQPublisher, error) {
	conn, channel, err := dialRabbitMQ(url)
	if err != nil {
		return nil, err
	}

	p := &RabbitMQPublisher{url: url, conn: conn, channel: channel}
	go p.watch(channel)
	return p, nil
}

func (p *RabbitMQPublisher) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *RabbitMQPublisher) watch(channel *amqp.Channel) {
	for {
		amqpErr, ok := <-channel.NotifyClose(make(chan *amqp.Error, 1))
		if !ok || p.isClosed() {
			return
		}
		slog.Warn("rabbitmq publisher channel lost, redialing", "error", amqpErr)

		for {
			conn, next, err := dialRabbitMQ(p.url)
			if err == nil {
				p.mu.Lock()
				if p.closed {
					p.mu.Unlock()
					conn.Close()
					return
				}
				p.conn, p.channel = conn, next
				p.mu.Unlock()

				channel = next
				break
			}
			if p.isClosed() {
				return
			}
			time.Sleep(RetryDelay)
		}
	}
}

func (p *RabbitMQPublisher) PublishJobEvent(ctx context.Context, event JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding job event: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.channel.IsClosed() {
		return errors.New("rabbitmq channel is closed")
	}

	err = p.channel.PublishWithContext(ctx, "", JobEventsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         event.Type,
		Timestamp:    event.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("error publishing %s event: %w", event.Type, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if err := p.conn.Close(); err != nil {
		slog.Error("error closing rabbitmq connection", "error", err)
	}
}

type rabbitMQDelivery struct {
	d amqp.Delivery
}

func (r *rabbitMQDelivery) Event() (JobEvent, error) {
	return decodeEvent(r.d.Body)
}

func (r *rabbitMQDelivery) Ack() error {
	return r.d.Ack(false)
}

func (r *rabbitMQDelivery) Nack(requeue bool) error {
	return r.d.Nack(false, requeue)
}

// RabbitMQReceiver consumes the job events queue one unacked message at a
// time and resubscribes when the broker drops the consumer.
type RabbitMQReceiver struct {
	url        string
	deliveries chan Delivery
	done       chan struct{}
	closeOnce  sync.Once
}

var _ Receiver = (*RabbitMQReceiver)(nil)

func NewRabbitMQReceiver(url string) (*RabbitMQReceiver, error) {
	r := &RabbitMQReceiver{
		url:        url,
		deliveries: make(chan Delivery),
		done:       make(chan struct{}),
	}

	conn, msgs, err := r.subscribe()
	if err != nil {
		return nil, err
	}

	go r.run(conn, msgs)
	return r, nil
}

func (r *RabbitMQReceiver) subscribe() (*amqp.Connection, <-chan amqp.Delivery, error) {
	conn, channel, err := dialRabbitMQ(r.url)
	if err != nil {
		return nil, nil, err
	}

	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("error setting rabbitmq qos: %w", err)
	}

	msgs, err := channel.Consume(JobEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("error consuming queue %s: %w", JobEventsQueue, err)
	}

	return conn, msgs, nil
}

func (r *RabbitMQReceiver) run(conn *amqp.Connection, msgs <-chan amqp.Delivery) {
	defer close(r.deliveries)

	for {
		stopped := r.forward(msgs)
		conn.Close()
		if stopped {
			return
		}

		slog.Warn("rabbitmq consumer stopped, resubscribing", "queue", JobEventsQueue)
		for {
			var err error
			if conn, msgs, err = r.subscribe(); err == nil {
				break
			}
			select {
			case <-r.done:
				return
			case <-time.After(RetryDelay):
			}
		}
	}
}

// forward passes messages on until the broker closes msgs, or returns true
// once the receiver is closed.
func (r *RabbitMQReceiver) forward(msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-r.done:
			return true
		case d, ok := <-msgs:
			if !ok {
				return false
			}
			select {
			case r.deliveries <- &rabbitMQDelivery{d: d}:
			case <-r.done:
				return true
			}
		}
	}
}

func (r *RabbitMQReceiver) Deliveries() <-chan Delivery {
	return r.deliveries
}

func (r *RabbitMQReceiver) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
