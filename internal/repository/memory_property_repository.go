package repository

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

type memoryPropertyRepository struct {
	mu        sync.Mutex
	records   map[string]*models.PropertyRecord
	maxImages int
	now       func() time.Time
}

func NewMemoryPropertyRepository(maxImages int) interfaces.PropertyImageStore {
	return newMemoryPropertyRepository(maxImages, utils.Now)
}

func newMemoryPropertyRepository(maxImages int, now func() time.Time) *memoryPropertyRepository {
	return &memoryPropertyRepository{
		records:   make(map[string]*models.PropertyRecord),
		maxImages: maxImages,
		now:       now,
	}
}

func (r *memoryPropertyRepository) Get(ctx context.Context, propertyID string) (*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "memoryPropertyRepository.Get")
	defer span.Finish()
	tracing.SetDefaultMemoryRepositorySpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)

	if err := ctx.Err(); err != nil {
		return nil, imagestack_errors.Transient("memoryPropertyRepository.Get", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[propertyID]
	if !ok {
		return nil, imagestack_errors.NotFound("memoryPropertyRepository.Get", imagestack_errors.ErrRecordNotFound)
	}
	return record.Clone(), nil
}

func (r *memoryPropertyRepository) BatchGet(ctx context.Context, propertyIDs []string) (map[string]*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "memoryPropertyRepository.BatchGet")
	defer span.Finish()
	tracing.SetDefaultMemoryRepositorySpanTags(ctx, span)
	span.LogKV("count", len(propertyIDs))

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]*models.PropertyRecord, len(propertyIDs))
	for _, id := range propertyIDs {
		if record, ok := r.records[id]; ok {
			result[id] = record.Clone()
		}
	}
	return result, nil
}

func (r *memoryPropertyRepository) Upsert(ctx context.Context, propertyID string, refs []models.ImageRef) (*models.PropertyRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "memoryPropertyRepository.Upsert")
	defer span.Finish()
	tracing.SetDefaultMemoryRepositorySpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)

	if err := validatePropertyID(propertyID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, imagestack_errors.Transient("memoryPropertyRepository.Upsert", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[propertyID]
	if !ok {
		record = models.NewPropertyRecord(propertyID)
		r.records[propertyID] = record
	}
	merged, added := models.MergeImages(record.Images, refs, r.maxImages)
	record.Images = merged
	record.LastUpdated = utils.MaxTime(record.LastUpdated, r.now())
	span.LogKV("added", len(added))

	return record.Clone(), nil
}
