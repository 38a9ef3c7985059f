package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

const batchGetChunkSize = 500

type propertyRepository struct {
	db        *gorm.DB
	maxImages int
	now       func() time.Time
}

func NewPropertyRepository(db *gorm.DB, maxImages int) interfaces.PropertyImageStore {
	return &propertyRepository{
		db:        db,
		maxImages: maxImages,
		now:       utils.Now,
	}
}

func orderImages(db *gorm.DB) *gorm.DB {
	return db.Order("property_images.id ASC")
}

func (r *propertyRepository) Get(ctx context.Context, propertyID string) (*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "propertyRepository.Get")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)

	var property models.Property
	err := r.db.WithContext(ctx).
		Preload("Images", orderImages).
		Where("id = ?", propertyID).
		First(&property).Error
	if err != nil {
		err = classifyPostgresError("propertyRepository.Get", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return property.ToRecord(), nil
}

func (r *propertyRepository) BatchGet(ctx context.Context, propertyIDs []string) (map[string]*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "propertyRepository.BatchGet")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.LogKV("count", len(propertyIDs))

	result := make(map[string]*models.PropertyRecord, len(propertyIDs))
	for _, chunk := range utils.Chunk(utils.UniqueStrings(propertyIDs), batchGetChunkSize) {
		var properties []models.Property
		err := r.db.WithContext(ctx).
			Preload("Images", orderImages).
			Where("id IN ?", chunk).
			Find(&properties).Error
		if err != nil {
			err = classifyPostgresError("propertyRepository.BatchGet", err)
			tracing.TraceErr(span, err)
			return nil, err
		}
		for i := range properties {
			result[properties[i].ID] = properties[i].ToRecord()
		}
	}
	return result, nil
}

// Upsert runs in one transaction. The property row upsert takes the row lock, so
// concurrent upserts of the same id serialize while different ids proceed in parallel.
func (r *propertyRepository) Upsert(ctx context.Context, propertyID string, refs []models.ImageRef) (*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "propertyRepository.Upsert")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)
	span.LogKV("refs", len(refs))

	if err := validatePropertyID(propertyID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var property models.Property
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Property{ID: propertyID, LastUpdated: r.now()}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_updated": gorm.Expr("GREATEST(properties.last_updated, EXCLUDED.last_updated)"),
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		// drop in-batch repeats; the unique index handles the rest
		incoming, _ := models.MergeImages(nil, refs, 0)
		if len(incoming) > 0 {
			images := make([]models.PropertyImage, 0, len(incoming))
			for _, ref := range incoming {
				images = append(images, models.NewPropertyImage(propertyID, ref))
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "property_id"}, {Name: "content_hash"}},
				DoNothing: true,
			}).Create(&images).Error
			if err != nil {
				return err
			}
		}

		if r.maxImages > 0 {
			err = tx.Exec(`DELETE FROM property_images WHERE id IN (
				SELECT id FROM property_images WHERE property_id = ?
				ORDER BY captured_at DESC, id DESC OFFSET ?)`, propertyID, r.maxImages).Error
			if err != nil {
				return err
			}
		}

		return tx.Preload("Images", orderImages).Where("id = ?", propertyID).First(&property).Error
	})
	if err != nil {
		err = classifyPostgresError("propertyRepository.Upsert", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return property.ToRecord(), nil
}
