package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/utils"
)

func testRef(hash string, capturedAt time.Time) models.ImageRef {
	return models.ImageRef{
		Key:         "sha256/" + hash,
		ContentHash: hash,
		SizeBytes:   10,
		ContentType: "image/jpeg",
		Source:      enum.ImageSourceEmail,
		CapturedAt:  capturedAt,
	}
}

func TestMemoryPropertyRepository_GetMissing(t *testing.T) {
	repo := NewMemoryPropertyRepository(0)

	record, err := repo.Get(context.Background(), "12345")
	require.Error(t, err)
	require.Nil(t, record)
	require.True(t, imagestack_errors.IsNotFound(err))
}

func TestMemoryPropertyRepository_UpsertMergesByHash(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newMemoryPropertyRepository(0, func() time.Time { return now })
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "12345", []models.ImageRef{testRef("aa", now), testRef("bb", now)})
	require.NoError(t, err)

	record, err := repo.Upsert(ctx, "12345", []models.ImageRef{testRef("bb", now), testRef("cc", now)})
	require.NoError(t, err)
	require.Len(t, record.Images, 3)
	assert.Equal(t, "aa", record.Images[0].ContentHash)
	assert.Equal(t, "bb", record.Images[1].ContentHash)
	assert.Equal(t, "cc", record.Images[2].ContentHash)
	assert.Equal(t, now, record.LastUpdated)

	// mutating the returned copy must not leak into the store
	record.Images[0].ContentHash = "zz"
	stored, err := repo.Get(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, "aa", stored.Images[0].ContentHash)
}

func TestMemoryPropertyRepository_LastUpdatedNeverMovesBack(t *testing.T) {
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newMemoryPropertyRepository(0, func() time.Time { return clock })
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "p1", []models.ImageRef{testRef("aa", clock)})
	require.NoError(t, err)

	clock = clock.Add(-time.Hour)
	record, err := repo.Upsert(ctx, "p1", []models.ImageRef{testRef("bb", clock)})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), record.LastUpdated)
}

func TestMemoryPropertyRepository_EvictsOldest(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newMemoryPropertyRepository(2, func() time.Time { return base })
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "p1", []models.ImageRef{testRef("aa", base), testRef("bb", base.Add(time.Minute))})
	require.NoError(t, err)
	record, err := repo.Upsert(ctx, "p1", []models.ImageRef{testRef("cc", base.Add(2*time.Minute))})
	require.NoError(t, err)

	require.Len(t, record.Images, 2)
	assert.False(t, record.HasImage("aa"))
	assert.True(t, record.HasImage("bb"))
	assert.True(t, record.HasImage("cc"))
}

func TestMemoryPropertyRepository_ConcurrentUpsertsKeepAllImages(t *testing.T) {
	repo := NewMemoryPropertyRepository(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Upsert(ctx, "p1", []models.ImageRef{testRef(fmt.Sprintf("h%02d", i), utils.Now())})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	record, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, record.Images, 20)
}

func TestMemoryPropertyRepository_BatchGetSkipsMissing(t *testing.T) {
	repo := NewMemoryPropertyRepository(0)
	ctx := context.Background()
	_, err := repo.Upsert(ctx, "p1", []models.ImageRef{testRef("aa", utils.Now())})
	require.NoError(t, err)

	records, err := repo.BatchGet(ctx, []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records, "p1")
}

func TestMemoryPropertyRepository_RejectsEmptyID(t *testing.T) {
	repo := NewMemoryPropertyRepository(0)
	_, err := repo.Upsert(context.Background(), " ", nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestMemoryCursorRepository_RoundTrip(t *testing.T) {
	repo := NewMemoryCursorRepository()
	ctx := context.Background()

	state, err := repo.Load(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Offset)
	assert.Empty(t, state.Pending)

	state.Offset = 7
	state.UpsertPending(models.PendingEntry{Entry: models.FeedEntry{PropertyID: "p1"}, Attempts: 1})
	require.NoError(t, repo.Save(ctx, state))

	state.Offset = 99
	loaded, err := repo.Load(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Offset)
	require.Len(t, loaded.Pending, 1)
	assert.Equal(t, "p1", loaded.Pending[0].Entry.PropertyID)
}
