package interfaces

import (
	"context"

	"github.com/customeros/imagestack/internal/models"
)

type FeedClient interface {
	FetchPage(ctx context.Context, subscriptionID string, offset, limit int) (*models.FeedPage, error)
}

type ImageFetcher interface {
	// Fetch fails with a Permanent error for 4xx responses and non-image content.
	Fetch(ctx context.Context, url string) (*models.FetchedImage, error)
	ExtractImageURLs(ctx context.Context, pageURL string) ([]string, error)
}
