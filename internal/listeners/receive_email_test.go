package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/services/events"
)

type stubHandler struct {
	events []models.IngestEvent
	result *models.IngestResult
	err    error
}

func (s *stubHandler) Handle(_ context.Context, event models.IngestEvent) (*models.IngestResult, error) {
	s.events = append(s.events, event)
	return s.result, s.err
}

// wireEvent round-trips the envelope through JSON the way the subscriber receives it.
func wireEvent(t *testing.T, payload dto.PropertyEmailReceived) dto.Event {
	t.Helper()
	event := events.NewEvent(opentracing.NoopTracer{}.StartSpan("test"), "msg-1", enum.EMAIL, payload)
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	var decoded dto.Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func TestReceivePropertyEmailListener_DecodesAndHandles(t *testing.T) {
	handler := &stubHandler{result: &models.IngestResult{Outcome: enum.IngestStored}}
	listener := NewReceivePropertyEmailListener(logger.NewNopLogger(), handler)
	assert.Equal(t, "PropertyEmailReceived", listener.GetEventType())
	assert.Equal(t, events.QueueReceivePropertyEmail, listener.GetQueueName())

	payload := dto.PropertyEmailReceived{
		Sender:     "agent@broker.example",
		Recipient:  "images+12345@inbound.example",
		RawMessage: []byte("Subject: hi\r\n\r\nbody"),
		ReceivedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, listener.Handle(context.Background(), wireEvent(t, payload)))

	require.Len(t, handler.events, 1)
	got := handler.events[0]
	assert.Equal(t, payload.RawMessage, got.RawMessage)
	assert.Equal(t, payload.Recipient, got.RecipientAddress)
	assert.Equal(t, enum.IngestTransportRabbitMQ, got.Transport)
	assert.True(t, payload.ReceivedAt.Equal(got.ReceivedAt))
}

func TestReceivePropertyEmailListener_RejectionIsAcked(t *testing.T) {
	handler := &stubHandler{
		result: &models.IngestResult{Outcome: enum.IngestRejected, RejectReason: enum.RejectNoImagesFound},
		err:    imagestack_errors.Permanent("test", imagestack_errors.ErrNoImagesFound),
	}
	listener := NewReceivePropertyEmailListener(logger.NewNopLogger(), handler)

	assert.NoError(t, listener.Handle(context.Background(), wireEvent(t, dto.PropertyEmailReceived{RawMessage: []byte("x")})))
}

func TestReceivePropertyEmailListener_TransientFailureIsReturned(t *testing.T) {
	handler := &stubHandler{
		result: &models.IngestResult{Outcome: enum.IngestFailed},
		err:    imagestack_errors.Transient("test", errors.New("store unavailable")),
	}
	listener := NewReceivePropertyEmailListener(logger.NewNopLogger(), handler)

	err := listener.Handle(context.Background(), wireEvent(t, dto.PropertyEmailReceived{RawMessage: []byte("x")}))
	assert.True(t, imagestack_errors.IsTransient(err))
}

func TestReceivePropertyEmailListener_InvalidEnvelope(t *testing.T) {
	listener := NewReceivePropertyEmailListener(logger.NewNopLogger(), &stubHandler{})

	err := listener.Handle(context.Background(), dto.Event{})
	assert.True(t, imagestack_errors.IsPermanent(err))
	assert.ErrorIs(t, err, imagestack_errors.ErrMalformedMessage)
}
