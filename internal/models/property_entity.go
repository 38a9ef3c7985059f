package models

import (
	"time"

	"github.com/customeros/imagestack/internal/enum"
)

type Property struct {
	ID          string          `gorm:"column:id;type:varchar(100);primaryKey"`
	LastUpdated time.Time       `gorm:"column:last_updated;type:timestamp;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	Images      []PropertyImage `gorm:"foreignKey:PropertyID;references:ID"`
}

func (Property) TableName() string {
	return "properties"
}

type PropertyImage struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	PropertyID  string    `gorm:"column:property_id;type:varchar(100);not null;uniqueIndex:idx_property_images_hash,priority:1;index:idx_property_images_captured,priority:1"`
	ContentHash string    `gorm:"column:content_hash;type:varchar(64);not null;uniqueIndex:idx_property_images_hash,priority:2"`
	BlobKey     string    `gorm:"column:blob_key;type:varchar(255);not null"`
	SizeBytes   int64     `gorm:"column:size_bytes;not null"`
	ContentType string    `gorm:"column:content_type;type:varchar(100)"`
	Source      string    `gorm:"column:source;type:varchar(20)"`
	Origin      string    `gorm:"column:origin;type:text"`
	CapturedAt  time.Time `gorm:"column:captured_at;type:timestamp;not null;index:idx_property_images_captured,priority:2"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (PropertyImage) TableName() string {
	return "property_images"
}

func NewPropertyImage(propertyID string, ref ImageRef) PropertyImage {
	return PropertyImage{
		PropertyID:  propertyID,
		ContentHash: ref.ContentHash,
		BlobKey:     ref.Key,
		SizeBytes:   ref.SizeBytes,
		ContentType: ref.ContentType,
		Source:      string(ref.Source),
		Origin:      ref.Origin,
		CapturedAt:  ref.CapturedAt,
	}
}

func (p PropertyImage) ToImageRef() ImageRef {
	return ImageRef{
		Key:         p.BlobKey,
		ContentHash: p.ContentHash,
		SizeBytes:   p.SizeBytes,
		ContentType: p.ContentType,
		Source:      enum.ImageSource(p.Source),
		Origin:      p.Origin,
		CapturedAt:  p.CapturedAt.UTC(),
	}
}

// ToRecord expects Images ordered by insertion (id).
func (p *Property) ToRecord() *PropertyRecord {
	record := NewPropertyRecord(p.ID)
	record.LastUpdated = p.LastUpdated.UTC()
	for _, img := range p.Images {
		record.Images = append(record.Images, img.ToImageRef())
	}
	return record
}
