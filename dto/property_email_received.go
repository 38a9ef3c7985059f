package dto

import (
	"time"

	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/utils"
)

// PropertyEmailReceived is the inbound mail trigger. RawMessage travels base64 encoded in JSON.
type PropertyEmailReceived struct {
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	RawMessage []byte    `json:"rawMessage"`
	ReceivedAt time.Time `json:"receivedAt"`
	MessageID  string    `json:"messageId,omitempty"`
}

func (p PropertyEmailReceived) ToIngestEvent(transport enum.IngestTransport) models.IngestEvent {
	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = utils.Now()
	}
	return models.IngestEvent{
		SenderAddress:    p.Sender,
		RecipientAddress: p.Recipient,
		RawMessage:       p.RawMessage,
		ReceivedAt:       receivedAt.UTC(),
		Transport:        transport,
		MessageID:        p.MessageID,
	}
}
