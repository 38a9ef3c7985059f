package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/utils"
)

type memoryBlob struct {
	data        []byte
	contentType string
	storedAt    time.Time
}

// MemoryBlobArchive keeps blobs in process. Expired entries are dropped lazily on access.
type MemoryBlobArchive struct {
	mu        sync.Mutex
	blobs     map[string]memoryBlob
	retention time.Duration
	now       func() time.Time
}

func NewMemoryBlobArchive(retentionDays int) interfaces.BlobArchive {
	return NewMemoryBlobArchiveWithClock(retentionDays, utils.Now)
}

func NewMemoryBlobArchiveWithClock(retentionDays int, now func() time.Time) *MemoryBlobArchive {
	return &MemoryBlobArchive{
		blobs:     make(map[string]memoryBlob),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       now,
	}
}

func (m *MemoryBlobArchive) Put(ctx context.Context, data []byte, contentType string) (*models.BlobPutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, imagestack_errors.Transient("MemoryBlobArchive.Put", err)
	}
	hash := utils.ContentHash(data)
	key := utils.BlobKeyForHash(hash)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		m.blobs[key] = memoryBlob{data: stored, contentType: contentType, storedAt: m.now()}
	}
	return &models.BlobPutResult{Key: key, ContentHash: hash, SizeBytes: int64(len(data))}, nil
}

func (m *MemoryBlobArchive) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, imagestack_errors.Transient("MemoryBlobArchive.Get", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.lookup(key)
	if !ok {
		return nil, imagestack_errors.NotFound("MemoryBlobArchive.Get", errors.Wrap(imagestack_errors.ErrBlobNotFound, key))
	}
	out := make([]byte, len(blob.data))
	copy(out, blob.data)
	return out, nil
}

func (m *MemoryBlobArchive) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, imagestack_errors.Transient("MemoryBlobArchive.Exists", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryBlobArchive) EnsureRetention(context.Context) error {
	return nil
}

// Delete drops a blob regardless of its age.
func (m *MemoryBlobArchive) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
}

func (m *MemoryBlobArchive) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// lookup expects m.mu to be held.
func (m *MemoryBlobArchive) lookup(key string) (memoryBlob, bool) {
	blob, ok := m.blobs[key]
	if !ok {
		return memoryBlob{}, false
	}
	if m.retention > 0 && !m.now().Before(blob.storedAt.Add(m.retention)) {
		delete(m.blobs, key)
		return memoryBlob{}, false
	}
	return blob, true
}
