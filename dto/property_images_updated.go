package dto

import (
	"time"

	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/models"
)

type PropertyImagesUpdated struct {
	PropertyID  string            `json:"propertyId"`
	Source      enum.ImageSource  `json:"source"`
	NewImages   []models.ImageRef `json:"newImages"`
	TotalImages int               `json:"totalImages"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

func NewPropertyImagesUpdated(source enum.ImageSource, result *models.WriteResult) PropertyImagesUpdated {
	event := PropertyImagesUpdated{Source: source, NewImages: result.Added}
	if result.Record != nil {
		event.PropertyID = result.Record.ID
		event.TotalImages = len(result.Record.Images)
		event.LastUpdated = result.Record.LastUpdated
	}
	return event
}
