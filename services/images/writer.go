package images

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/retry"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

// Writer stores candidate images for one property: new blobs first, then a single upsert.
// A write either lands every new ref or none of them.
type Writer struct {
	store        interfaces.PropertyImageStore
	archive      interfaces.BlobArchive
	policy       retry.Policy
	healDangling bool
	now          func() time.Time
}

func NewWriter(store interfaces.PropertyImageStore, archive interfaces.BlobArchive, policy retry.Policy, healDangling bool) *Writer {
	return &Writer{
		store:        store,
		archive:      archive,
		policy:       policy,
		healDangling: healDangling,
		now:          utils.Now,
	}
}

type hashedCandidate struct {
	models.CandidateImage
	hash string
}

// Load returns the stored record, or an empty one when the property is unknown.
func (w *Writer) Load(ctx context.Context, propertyID string) (*models.PropertyRecord, bool, error) {
	record, err := retry.DoValue(ctx, w.policy, func(ctx context.Context) (*models.PropertyRecord, error) {
		return w.store.Get(ctx, propertyID)
	})
	if imagestack_errors.IsNotFound(err) {
		return models.NewPropertyRecord(propertyID), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func (w *Writer) Write(ctx context.Context, propertyID string, source enum.ImageSource, candidates []models.CandidateImage) (*models.WriteResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Writer.Write")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProperty(span, propertyID)

	result := &models.WriteResult{}
	unique := make([]hashedCandidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		hash := utils.ContentHash(c.Data)
		if _, dup := seen[hash]; dup {
			result.DuplicateImages++
			continue
		}
		seen[hash] = struct{}{}
		unique = append(unique, hashedCandidate{CandidateImage: c, hash: hash})
	}

	record, _, err := w.Load(ctx, propertyID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	capturedAt := w.now()
	refs := make([]models.ImageRef, 0, len(unique))
	for _, c := range unique {
		if record.HasImage(c.hash) {
			result.DuplicateImages++
			if w.healDangling {
				healed, err := w.heal(ctx, record, c)
				if err != nil {
					tracing.TraceErr(span, err)
					return nil, err
				}
				if healed {
					result.HealedBlobs++
				}
			}
			continue
		}

		put, err := w.put(ctx, c)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		refs = append(refs, models.ImageRef{
			Key:         put.Key,
			ContentHash: put.ContentHash,
			SizeBytes:   put.SizeBytes,
			ContentType: c.ContentType,
			Source:      source,
			Origin:      c.Origin(),
			CapturedAt:  capturedAt,
		})
	}
	span.LogKV("new", len(refs), "duplicates", result.DuplicateImages, "healed", result.HealedBlobs)

	if len(refs) == 0 {
		result.Record = record
		return result, nil
	}

	updated, err := retry.DoValue(ctx, w.policy, func(ctx context.Context) (*models.PropertyRecord, error) {
		return w.store.Upsert(ctx, propertyID, refs)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	result.Record = updated
	for _, ref := range refs {
		if updated.HasImage(ref.ContentHash) {
			result.Added = append(result.Added, ref)
		}
	}
	return result, nil
}

func (w *Writer) put(ctx context.Context, c hashedCandidate) (*models.BlobPutResult, error) {
	return retry.DoValue(ctx, w.policy, func(ctx context.Context) (*models.BlobPutResult, error) {
		return w.archive.Put(ctx, c.Data, c.ContentType)
	})
}

// heal re-archives the bytes of a known image whose blob has expired or gone missing.
func (w *Writer) heal(ctx context.Context, record *models.PropertyRecord, c hashedCandidate) (bool, error) {
	key := utils.BlobKeyForHash(c.hash)
	for _, img := range record.Images {
		if img.ContentHash == c.hash {
			key = img.Key
			break
		}
	}
	exists, err := retry.DoValue(ctx, w.policy, func(ctx context.Context) (bool, error) {
		return w.archive.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := w.put(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}
