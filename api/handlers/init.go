package handlers

import (
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/services"
)

type APIHandlers struct {
	Inbound    *InboundHandler
	Properties *PropertiesHandler
	Blobs      *BlobsHandler
	Archiver   *ArchiverHandler
	Inbox      *InboxHandler
}

func InitHandlers(s *services.Services, log logger.Logger) *APIHandlers {
	var queue InboundQueue
	if s.EventsService != nil {
		queue = s.EventsService.Publisher
	}
	return &APIHandlers{
		Inbound:    NewInboundHandler(s.MailIngest, queue, log),
		Properties: NewPropertiesHandler(s.Repositories.PropertyImageStore),
		Blobs:      NewBlobsHandler(s.BlobArchive),
		Archiver:   NewArchiverHandler(s.Archiver),
		Inbox:      NewInboxHandler(s.Inbox),
	}
}
