package dto

import (
	"time"

	"github.com/customeros/imagestack/internal/enum"
)

const (
	SNSTypeNotification             = "Notification"
	SNSTypeSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSTypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// SNSMessage is the HTTP(S) delivery envelope of an SNS topic.
type SNSMessage struct {
	Type             string `json:"Type"`
	MessageId        string `json:"MessageId"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	Token            string `json:"Token,omitempty"`
	Signature        string `json:"Signature,omitempty"`
	SignatureVersion string `json:"SignatureVersion,omitempty"`
	SigningCertURL   string `json:"SigningCertURL,omitempty"`
}

// SESNotification is the SES receipt rule payload carried in SNSMessage.Message.
// Content holds the raw MIME message when the rule includes it.
type SESNotification struct {
	NotificationType string     `json:"notificationType"`
	Mail             SESMail    `json:"mail"`
	Receipt          SESReceipt `json:"receipt"`
	Content          string     `json:"content"`
}

type SESMail struct {
	Timestamp     time.Time        `json:"timestamp"`
	Source        string           `json:"source"`
	MessageId     string           `json:"messageId"`
	Destination   []string         `json:"destination"`
	CommonHeaders SESCommonHeaders `json:"commonHeaders"`
}

type SESCommonHeaders struct {
	From      []string `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	MessageId string   `json:"messageId"`
}

type SESReceipt struct {
	Recipients []string `json:"recipients"`
}

func (n SESNotification) ToPropertyEmailReceived() PropertyEmailReceived {
	recipient := ""
	switch {
	case len(n.Receipt.Recipients) > 0:
		recipient = n.Receipt.Recipients[0]
	case len(n.Mail.Destination) > 0:
		recipient = n.Mail.Destination[0]
	}
	return PropertyEmailReceived{
		Sender:     n.Mail.Source,
		Recipient:  recipient,
		RawMessage: []byte(n.Content),
		ReceivedAt: n.Mail.Timestamp,
		MessageID:  n.Mail.MessageId,
	}
}

// IngestResponse is returned by the inbound endpoints.
type IngestResponse struct {
	PropertyID      string             `json:"propertyId,omitempty"`
	Outcome         enum.IngestOutcome `json:"outcome"`
	RejectReason    enum.RejectReason  `json:"rejectReason,omitempty"`
	NewImages       int                `json:"newImages"`
	DuplicateImages int                `json:"duplicateImages"`
	TotalImages     int                `json:"totalImages"`
	Error           string             `json:"error,omitempty"`
}
