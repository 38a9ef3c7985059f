package interfaces

import (
	"context"

	"github.com/customeros/imagestack/internal/models"
)

type NotificationRelay interface {
	Send(ctx context.Context, notification *models.Notification) error
}
