package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) interfaces.CursorStore {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Load(ctx context.Context, subscriptionID string) (*models.CursorState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.Load")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagSubscriptionId, subscriptionID)

	state := &models.CursorState{SubscriptionID: subscriptionID}

	var cursor models.ArchiverCursor
	err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&cursor).Error
	switch {
	case err == nil:
		state.Offset = cursor.Offset
		state.UpdatedAt = cursor.UpdatedAt.UTC()
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		err = classifyPostgresError("cursorRepository.Load", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	var pending []models.ArchiverPendingEntry
	err = r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC, property_id ASC").
		Find(&pending).Error
	if err != nil {
		err = classifyPostgresError("cursorRepository.Load", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	for _, p := range pending {
		state.Pending = append(state.Pending, p.ToPendingEntry())
	}

	return state, nil
}

func (r *cursorRepository) Save(ctx context.Context, state *models.CursorState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "cursorRepository.Save")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagSubscriptionId, state.SubscriptionID)
	span.LogKV("offset", state.Offset, "pending", len(state.Pending))

	now := utils.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cursor := models.ArchiverCursor{SubscriptionID: state.SubscriptionID, Offset: state.Offset, UpdatedAt: now}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"feed_offset", "updated_at"}),
		}).Create(&cursor).Error
		if err != nil {
			return err
		}

		keep := make([]string, 0, len(state.Pending))
		for _, p := range state.Pending {
			keep = append(keep, p.Entry.PropertyID)
		}
		del := tx.Where("subscription_id = ?", state.SubscriptionID)
		if len(keep) > 0 {
			del = del.Where("property_id NOT IN ?", keep)
		}
		if err := del.Delete(&models.ArchiverPendingEntry{}).Error; err != nil {
			return err
		}
		if len(state.Pending) == 0 {
			return nil
		}

		rows := make([]models.ArchiverPendingEntry, 0, len(state.Pending))
		for _, p := range state.Pending {
			row := models.NewArchiverPendingEntry(state.SubscriptionID, p)
			row.UpdatedAt = now
			rows = append(rows, row)
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "property_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"image_urls", "listing_url", "attempts", "last_error", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		err = classifyPostgresError("cursorRepository.Save", err)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
