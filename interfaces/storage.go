package interfaces

import (
	"context"

	"github.com/customeros/imagestack/internal/models"
)

// BlobArchive stores image bytes under content-addressed keys with bounded retention.
type BlobArchive interface {
	Put(ctx context.Context, data []byte, contentType string) (*models.BlobPutResult, error)
	// Get returns a NotFound error for unknown or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	EnsureRetention(ctx context.Context) error
}
