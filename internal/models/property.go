package models

import (
	"sort"
	"time"

	"github.com/customeros/imagestack/internal/enum"
)

// ImageRef points at one archived image. Immutable once created.
type ImageRef struct {
	Key         string           `json:"key"`
	ContentHash string           `json:"contentHash"`
	SizeBytes   int64            `json:"sizeBytes"`
	ContentType string           `json:"contentType,omitempty"`
	Source      enum.ImageSource `json:"source,omitempty"`
	Origin      string           `json:"origin,omitempty"`
	CapturedAt  time.Time        `json:"capturedAt"`
}

type PropertyRecord struct {
	ID          string     `json:"id"`
	Images      []ImageRef `json:"images"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func NewPropertyRecord(id string) *PropertyRecord {
	return &PropertyRecord{ID: id, Images: []ImageRef{}}
}

func (r *PropertyRecord) HasImage(contentHash string) bool {
	for _, img := range r.Images {
		if img.ContentHash == contentHash {
			return true
		}
	}
	return false
}

func (r *PropertyRecord) Clone() *PropertyRecord {
	if r == nil {
		return nil
	}
	images := make([]ImageRef, len(r.Images))
	copy(images, r.Images)
	return &PropertyRecord{ID: r.ID, Images: images, LastUpdated: r.LastUpdated}
}

// MergeImages appends incoming refs whose hash is not yet present and evicts the
// oldest refs (capturedAt, then position) once the list exceeds maxImages.
// maxImages <= 0 disables the cap. Returns the merged list and the refs that were added.
func MergeImages(existing, incoming []ImageRef, maxImages int) (merged []ImageRef, added []ImageRef) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]ImageRef, 0, len(existing)+len(incoming))
	for _, ref := range existing {
		if _, ok := seen[ref.ContentHash]; ok {
			continue
		}
		seen[ref.ContentHash] = struct{}{}
		merged = append(merged, ref)
	}
	for _, ref := range incoming {
		if _, ok := seen[ref.ContentHash]; ok {
			continue
		}
		seen[ref.ContentHash] = struct{}{}
		merged = append(merged, ref)
		added = append(added, ref)
	}

	if maxImages <= 0 || len(merged) <= maxImages {
		return merged, added
	}

	order := make([]int, len(merged))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return merged[order[a]].CapturedAt.Before(merged[order[b]].CapturedAt)
	})
	evicted := make(map[int]struct{}, len(merged)-maxImages)
	for _, idx := range order[:len(merged)-maxImages] {
		evicted[idx] = struct{}{}
	}

	kept := make([]ImageRef, 0, maxImages)
	for i, ref := range merged {
		if _, gone := evicted[i]; !gone {
			kept = append(kept, ref)
		}
	}
	keptAdded := added[:0:0]
	for _, ref := range added {
		if containsHash(kept, ref.ContentHash) {
			keptAdded = append(keptAdded, ref)
		}
	}
	return kept, keptAdded
}

func containsHash(refs []ImageRef, contentHash string) bool {
	for _, ref := range refs {
		if ref.ContentHash == contentHash {
			return true
		}
	}
	return false
}
