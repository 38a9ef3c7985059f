package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
)

type settleRecorder struct {
	acked    int
	nacked   int
	requeued int
}

func (s *settleRecorder) Ack(uint64, bool) error {
	s.acked++
	return nil
}

func (s *settleRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	s.nacked++
	if requeue {
		s.requeued++
	}
	return nil
}

func (s *settleRecorder) Reject(uint64, bool) error {
	return nil
}

func TestNewEvent_Envelope(t *testing.T) {
	span := opentracing.NoopTracer{}.StartSpan("test")
	event := NewEvent(span, "12345", enum.PROPERTY, &dto.PropertyImagesUpdated{PropertyID: "12345"})

	assert.Equal(t, "PropertyImagesUpdated", event.Event.EventType)
	assert.Equal(t, "12345", event.Event.EntityId)
	assert.Equal(t, enum.PROPERTY, event.Event.EntityType)
	assert.Equal(t, AppSource, event.Metadata.AppSource)
	assert.NotEmpty(t, event.Event.Id)
}

func TestDecodeEventData_RoundTripsThroughJSON(t *testing.T) {
	payload := dto.PropertyEmailReceived{Recipient: "images+1@x.example", RawMessage: []byte("Subject: a\r\n\r\nb")}
	raw, err := json.Marshal(NewEvent(opentracing.NoopTracer{}.StartSpan("test"), "id", enum.EMAIL, payload))
	require.NoError(t, err)

	var event dto.Event
	require.NoError(t, json.Unmarshal(raw, &event))

	decoded, err := DecodeEventData[dto.PropertyEmailReceived](context.Background(), &event)
	require.NoError(t, err)
	assert.Equal(t, payload.RawMessage, decoded.RawMessage)
	assert.Equal(t, payload.Recipient, decoded.Recipient)
}

func TestValidateBaseEvent(t *testing.T) {
	listener := NewBaseEventListener(logger.NewNopLogger(), "PropertyEmailReceived", QueueReceivePropertyEmail)
	valid := dto.Event{Event: dto.EventDetails{EntityId: "id", EventType: "PropertyEmailReceived", Data: map[string]any{}}}

	got, err := listener.ValidateBaseEvent(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, "id", got.Event.EntityId)

	cases := map[string]any{
		"wrong type":      "not an event",
		"nil data":        dto.Event{Event: dto.EventDetails{EntityId: "id", EventType: "PropertyEmailReceived"}},
		"empty entity":    dto.Event{Event: dto.EventDetails{EventType: "PropertyEmailReceived", Data: 1}},
		"other eventType": dto.Event{Event: dto.EventDetails{EntityId: "id", EventType: "Other", Data: 1}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := listener.ValidateBaseEvent(context.Background(), input)
			assert.True(t, imagestack_errors.IsPermanent(err))
		})
	}
}

func TestSubscriberSettle(t *testing.T) {
	s := &RabbitMQSubscriber{logger: logger.NewNopLogger()}
	transient := imagestack_errors.Transient("test", errors.New("timeout"))

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        settleRecorder
	}{
		{"success acks", nil, false, settleRecorder{acked: 1}},
		{"transient requeues", transient, false, settleRecorder{nacked: 1, requeued: 1}},
		{"redelivered transient dead-letters", transient, true, settleRecorder{nacked: 1}},
		{"permanent dead-letters", imagestack_errors.Permanent("test", errors.New("bad")), false, settleRecorder{nacked: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &settleRecorder{}
			s.settle(amqp091.Delivery{Acknowledger: rec, Redelivered: tt.redelivered}, QueueReceivePropertyEmail, tt.err)
			assert.Equal(t, tt.want, *rec)
		})
	}
}

func TestQueueArguments(t *testing.T) {
	args := queueArguments(DLQReceivePropertyEmail, DefaultMessageTTL)
	assert.Equal(t, ExchangeDeadLetter, args["x-dead-letter-exchange"])
	assert.Equal(t, DLQReceivePropertyEmail, args["x-dead-letter-routing-key"])
	assert.Equal(t, DefaultMessageTTL.Milliseconds(), args["x-message-ttl"])
}
