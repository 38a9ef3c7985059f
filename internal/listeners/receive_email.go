package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/services/events"
)

type ReceivePropertyEmailListener struct {
	events.BaseEventListener
	handler interfaces.MailIngestHandler
}

func NewReceivePropertyEmailListener(logger logger.Logger, handler interfaces.MailIngestHandler) interfaces.EventListener {
	return &ReceivePropertyEmailListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.PropertyEmailReceived](), // subscribed event
			events.QueueReceivePropertyEmail,                 // listening on Direct queue
		),
		handler: handler,
	}
}

// Handle acks rejected messages; ingestion failures are returned so the subscriber can
// requeue transient ones.
func (l *ReceivePropertyEmailListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReceivePropertyEmailListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	received, err := events.DecodeEventData[dto.PropertyEmailReceived](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	result, err := l.handler.Handle(ctx, received.ToIngestEvent(enum.IngestTransportRabbitMQ))
	if result != nil && result.Outcome == enum.IngestRejected {
		span.LogKV("rejectReason", string(result.RejectReason))
		return nil
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
