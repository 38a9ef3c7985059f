package interfaces

import (
	"context"

	"github.com/customeros/imagestack/internal/models"
)

type MailIngestHandler interface {
	Handle(ctx context.Context, event models.IngestEvent) (*models.IngestResult, error)
}

type Archiver interface {
	Run(ctx context.Context) (*models.RunReport, error)
}

type InboxPoller interface {
	Poll(ctx context.Context) (*models.PollReport, error)
}
