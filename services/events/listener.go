package events

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/dto"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/tracing"
)

// BaseEventListener provides common functionality for all listeners
type BaseEventListener struct {
	logger    logger.Logger
	eventType string
	queueName string
}

func NewBaseEventListener(logger logger.Logger, eventType, queueName string) BaseEventListener {
	return BaseEventListener{
		logger:    logger,
		eventType: eventType,
		queueName: queueName,
	}
}

func (b BaseEventListener) GetEventType() string {
	return b.eventType
}

func (b BaseEventListener) GetQueueName() string {
	return b.queueName
}

func (b BaseEventListener) Logger() logger.Logger {
	return b.logger
}

// ValidateBaseEvent checks the envelope. Failures are Permanent so the delivery is dead-lettered.
func (b BaseEventListener) ValidateBaseEvent(ctx context.Context, input any) (*dto.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Events.ValidateEvent")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	fail := func(msg string) (*dto.Event, error) {
		err := imagestack_errors.Permanent("events.ValidateBaseEvent", errors.Wrap(imagestack_errors.ErrMalformedMessage, msg))
		tracing.TraceErr(span, err)
		return nil, err
	}

	message, ok := input.(dto.Event)
	if !ok {
		return fail("unable to cast to event type")
	}
	if message.Event.Data == nil {
		return fail("message data is nil")
	}
	if message.Event.EntityId == "" {
		return fail("entity id is empty")
	}
	if message.Event.EventType == "" {
		return fail("event type is empty")
	}
	if message.Event.EventType != b.eventType {
		return fail("unexpected event type " + message.Event.EventType)
	}

	return &message, nil
}

func DecodeEventData[T any](ctx context.Context, event *dto.Event) (T, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Listener.DecodeEventData")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	var decoded T

	// Data arrives as a generic map after json decoding of the envelope.
	jsonBytes, err := json.Marshal(event.Event.Data)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, imagestack_errors.Permanent("events.DecodeEventData", err)
	}

	err = json.Unmarshal(jsonBytes, &decoded)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, imagestack_errors.Permanent("events.DecodeEventData", errors.Wrap(err, "failed to decode event data"))
	}

	return decoded, nil
}

func GetEventType[T any]() string {
	var t T
	eventType := reflect.TypeOf(t)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}
	return eventType.Name()
}
