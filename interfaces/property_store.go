package interfaces

import (
	"context"

	"github.com/customeros/imagestack/internal/models"
)

// PropertyImageStore owns property records. Upsert merges refs by content hash,
// is safe for concurrent callers and never removes a ref other than by cap eviction.
type PropertyImageStore interface {
	// Get returns a NotFound error when no record exists.
	Get(ctx context.Context, propertyID string) (*models.PropertyRecord, error)
	// BatchGet omits missing ids from the result.
	BatchGet(ctx context.Context, propertyIDs []string) (map[string]*models.PropertyRecord, error)
	Upsert(ctx context.Context, propertyID string, refs []models.ImageRef) (*models.PropertyRecord, error)
}

type CursorStore interface {
	// Load returns an empty state at offset 0 for an unknown subscription.
	Load(ctx context.Context, subscriptionID string) (*models.CursorState, error)
	Save(ctx context.Context, state *models.CursorState) error
}
