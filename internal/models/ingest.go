package models

import (
	"time"

	"github.com/customeros/imagestack/internal/enum"
)

// IngestEvent is one inbound mail delivery. Transient, never stored.
type IngestEvent struct {
	SenderAddress    string               `json:"sender"`
	RecipientAddress string               `json:"recipient"`
	RawMessage       []byte               `json:"rawMessage"`
	ReceivedAt       time.Time            `json:"receivedAt"`
	Transport        enum.IngestTransport `json:"transport,omitempty"`
	MessageID        string               `json:"messageId,omitempty"`
}

// ParsedMessage is the decoded view of an inbound mail the handler works on.
type ParsedMessage struct {
	MessageID string
	Subject   string
	From      string
	To        []string
	Date      time.Time
	Text      string
	HTML      string
	Images    []CandidateImage
	Warnings  []string
}

// CandidateImage is image content not yet archived.
type CandidateImage struct {
	Data        []byte
	ContentType string
	FileName    string
	SourceURL   string
}

func (c CandidateImage) Origin() string {
	if c.SourceURL != "" {
		return c.SourceURL
	}
	return c.FileName
}

type BlobPutResult struct {
	Key         string `json:"key"`
	ContentHash string `json:"contentHash"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type WriteResult struct {
	Record          *PropertyRecord
	Added           []ImageRef
	DuplicateImages int
	HealedBlobs     int
}

type IngestResult struct {
	PropertyID      string             `json:"propertyId,omitempty"`
	Outcome         enum.IngestOutcome `json:"outcome"`
	RejectReason    enum.RejectReason  `json:"rejectReason,omitempty"`
	NewImages       int                `json:"newImages"`
	DuplicateImages int                `json:"duplicateImages"`
	Record          *PropertyRecord    `json:"record,omitempty"`
}

type FetchedImage struct {
	URL         string
	Data        []byte
	ContentType string
}

// PollReport summarizes one inbox poll.
type PollReport struct {
	Folder    string         `json:"folder"`
	StartedAt time.Time      `json:"startedAt"`
	Results   []PolledResult `json:"results"`
}

type PolledResult struct {
	UID     uint32             `json:"uid"`
	Outcome enum.IngestOutcome `json:"outcome"`
	Result  *IngestResult      `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (r *PollReport) Count(outcome enum.IngestOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}
