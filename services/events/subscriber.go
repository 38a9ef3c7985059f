package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/tracing"
)

type SubscriberConfig struct {
	MaxRetries          int
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	PrefetchCount       int
}

type RabbitMQSubscriber struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	url             string
	logger          logger.Logger
	config          SubscriberConfig
	listeners       map[string]interfaces.EventListener
	listenerMutex   sync.RWMutex
	done            chan struct{}
	closeOnce       sync.Once
}

func NewRabbitMQSubscriber(rabbitmqURL string, logger logger.Logger, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	if config == nil {
		config = &SubscriberConfig{
			MaxRetries:          5,
			ReconnectBackoff:    time.Second,
			MaxReconnectBackoff: time.Second * 30,
			PrefetchCount:       4,
		}
	}

	subscriber := &RabbitMQSubscriber{
		url:       rabbitmqURL,
		logger:    logger,
		config:    *config,
		listeners: make(map[string]interfaces.EventListener),
		done:      make(chan struct{}),
	}

	err := subscriber.connect()
	if err != nil {
		return nil, err
	}

	return subscriber, nil
}

func (r *RabbitMQSubscriber) RegisterListener(listener interfaces.EventListener) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()

	eventType := listener.GetEventType()
	r.listeners[eventType] = listener
	r.logger.Infof("Registered listener for event type: %s on queue: %s",
		eventType, listener.GetQueueName())
}

// ListenQueue starts listening to a standard queue
func (r *RabbitMQSubscriber) ListenQueue(queueName string) error {
	return r.listenQueueWithExclusive(queueName, false)
}

// ListenQueueExclusive starts listening to an exclusive queue
func (r *RabbitMQSubscriber) ListenQueueExclusive(queueName string) error {
	return r.listenQueueWithExclusive(queueName, true)
}

func (r *RabbitMQSubscriber) listenQueueWithExclusive(queueName string, exclusive bool) error {
	go func() {
		for {
			select {
			case <-r.done:
				return
			default:
			}

			r.consume(queueName, exclusive)

			select {
			case <-r.done:
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()

	return nil
}

// consume blocks until the delivery channel closes.
func (r *RabbitMQSubscriber) consume(queueName string, exclusive bool) {
	r.connectionMutex.Lock()
	conn := r.connection
	r.connectionMutex.Unlock()
	if conn == nil || conn.IsClosed() {
		r.logger.Warnf("No open connection for queue %s. Retrying...", queueName)
		return
	}

	channel, err := conn.Channel()
	if err != nil {
		r.logger.Errorf("Failed to open channel for queue %s: %v. Retrying...", queueName, err)
		return
	}
	defer channel.Close()

	if r.config.PrefetchCount > 0 {
		if err := channel.Qos(r.config.PrefetchCount, 0, false); err != nil {
			r.logger.Errorf("Failed to set prefetch on queue %s: %v", queueName, err)
			return
		}
	}

	msgs, err := channel.Consume(
		queueName, // queue
		"",        // consumer tag
		false,     // auto-ack
		exclusive, // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		if exclusive && strings.Contains(err.Error(), "ACCESS_REFUSED") && strings.Contains(err.Error(), "exclusive") {
			r.logger.Warnf("Exclusive consumer conflict for queue %s. Only one instance can consume exclusively.", queueName)
			return
		}
		r.logger.Errorf("Failed to register consumer on queue %s: %v. Retrying...", queueName, err)
		return
	}

	r.logger.Infof("Listening for messages on queue %s", queueName)

	for d := range msgs {
		r.handleMessage(d, queueName)
	}

	r.logger.Warnf("Connection lost for queue %s. Reconnecting...", queueName)
}

func (r *RabbitMQSubscriber) handleMessage(d amqp091.Delivery, queueName string) {
	defer tracing.RecoverAndLogToJaeger(r.logger)

	err := r.processMessage(d, queueName)
	r.settle(d, queueName, err)
}

// settle acks successful deliveries. Transient failures are requeued once;
// a redelivered transient failure and every other failure go to the dead-letter queue.
func (r *RabbitMQSubscriber) settle(d amqp091.Delivery, queueName string, err error) {
	switch {
	case err == nil:
		r.retryAckNack(d, true, false)
	case imagestack_errors.IsTransient(err) && !d.Redelivered:
		r.logger.Warnf("Transient failure on queue %s, requeueing: %v", queueName, err)
		r.retryAckNack(d, false, true)
	default:
		r.logger.Errorf("Failed to process message on queue %s: %v", queueName, err)
		r.retryAckNack(d, false, false)
	}
}

func (r *RabbitMQSubscriber) processMessage(d amqp091.Delivery, queueName string) error {
	ctx := context.Background()

	var event dto.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return errors.Wrap(err, "failed to unmarshal message")
	}

	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "RabbitMQSubscriber.ProcessMessage", event.Metadata.UberTraceId)
	defer span.Finish()
	span.LogKV("event_type", event.Event.EventType)
	span.LogKV("queue_name", queueName)

	r.listenerMutex.RLock()
	listener, exists := r.listeners[event.Event.EventType]
	r.listenerMutex.RUnlock()

	if !exists {
		r.logger.Infof("No listener found for event type: %s on queue: %s", event.Event.EventType, queueName)
		return nil
	}

	if listener.GetQueueName() != queueName {
		r.logger.Warnf("Event type %s received on wrong queue. Expected %s, got %s",
			event.Event.EventType, listener.GetQueueName(), queueName)
		return nil
	}

	err := listener.Handle(ctx, event)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *RabbitMQSubscriber) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	conn, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	r.connection = conn

	go r.watchConnection(conn)

	return nil
}

func (r *RabbitMQSubscriber) watchConnection(conn *amqp091.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
	select {
	case <-r.done:
		return
	case amqpErr := <-notifyClose:
		if amqpErr == nil {
			return
		}
		r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", amqpErr)
	}

	b := reconnectBackoff(r.config.ReconnectBackoff, r.config.MaxReconnectBackoff)
	for {
		if err := r.connect(); err == nil {
			r.logger.Info("Subscriber reconnected to RabbitMQ")
			return
		}
		select {
		case <-r.done:
			return
		case <-time.After(b.Duration()):
		}
	}
}

func (r *RabbitMQSubscriber) retryAckNack(d amqp091.Delivery, ack, requeue bool) {
	maxRetries := 5
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, requeue)
		}

		if err == nil {
			return
		}

		time.Sleep(retryDelay)
	}

	r.logger.Errorf("Failed to %s message after %d attempts",
		map[bool]string{true: "acknowledge", false: "negative acknowledge"}[ack],
		maxRetries)
}

func (r *RabbitMQSubscriber) Close() error {
	r.closeOnce.Do(func() { close(r.done) })

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
