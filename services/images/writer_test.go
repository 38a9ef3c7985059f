package images

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/repository"
	"github.com/customeros/imagestack/internal/retry"
	"github.com/customeros/imagestack/internal/utils"
	"github.com/customeros/imagestack/services/storage"
)

var testPolicy = retry.Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Factor: 2}

type countingStore struct {
	interfaces.PropertyImageStore
	upserts    int
	failUpsert error
}

func (c *countingStore) Upsert(ctx context.Context, id string, refs []models.ImageRef) (*models.PropertyRecord, error) {
	c.upserts++
	if c.failUpsert != nil {
		return nil, c.failUpsert
	}
	return c.PropertyImageStore.Upsert(ctx, id, refs)
}

type flakyArchive struct {
	interfaces.BlobArchive
	failures int
	puts     int
}

func (f *flakyArchive) Put(ctx context.Context, data []byte, contentType string) (*models.BlobPutResult, error) {
	f.puts++
	if f.failures > 0 {
		f.failures--
		return nil, imagestack_errors.Transient("flakyArchive.Put", errors.New("connection reset"))
	}
	return f.BlobArchive.Put(ctx, data, contentType)
}

func candidate(data string) models.CandidateImage {
	return models.CandidateImage{Data: []byte(data), ContentType: "image/jpeg", FileName: data + ".jpg"}
}

func newTestWriter(heal bool) (*Writer, *countingStore, *storage.MemoryBlobArchive) {
	store := &countingStore{PropertyImageStore: repository.NewMemoryPropertyRepository(0)}
	archive := storage.NewMemoryBlobArchiveWithClock(0, utils.Now)
	return NewWriter(store, archive, testPolicy, heal), store, archive
}

func TestWriter_WriteIsIdempotent(t *testing.T) {
	w, store, _ := newTestWriter(false)
	ctx := context.Background()
	batch := []models.CandidateImage{candidate("A"), candidate("B")}

	first, err := w.Write(ctx, "12345", enum.ImageSourceEmail, batch)
	require.NoError(t, err)
	assert.Len(t, first.Added, 2)
	assert.Len(t, first.Record.Images, 2)

	second, err := w.Write(ctx, "12345", enum.ImageSourceEmail, batch)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.Equal(t, 2, second.DuplicateImages)
	assert.Equal(t, first.Record.Images, second.Record.Images)
	assert.Equal(t, 1, store.upserts)
}

func TestWriter_DedupsWithinBatch(t *testing.T) {
	w, _, archive := newTestWriter(false)

	res, err := w.Write(context.Background(), "p1", enum.ImageSourceFeed, []models.CandidateImage{candidate("A"), candidate("A"), candidate("B")})
	require.NoError(t, err)
	assert.Len(t, res.Added, 2)
	assert.Equal(t, 1, res.DuplicateImages)
	assert.Equal(t, 2, archive.Len())
	assert.Equal(t, enum.ImageSourceFeed, res.Added[0].Source)
	assert.Equal(t, "A.jpg", res.Added[0].Origin)
}

func TestWriter_AppendsOnlyNewImages(t *testing.T) {
	w, _, _ := newTestWriter(false)
	ctx := context.Background()

	_, err := w.Write(ctx, "12345", enum.ImageSourceEmail, []models.CandidateImage{candidate("A"), candidate("B")})
	require.NoError(t, err)
	res, err := w.Write(ctx, "12345", enum.ImageSourceEmail, []models.CandidateImage{candidate("B"), candidate("C")})
	require.NoError(t, err)

	require.Len(t, res.Record.Images, 3)
	assert.Equal(t, utils.ContentHash([]byte("A")), res.Record.Images[0].ContentHash)
	assert.Equal(t, utils.ContentHash([]byte("B")), res.Record.Images[1].ContentHash)
	assert.Equal(t, utils.ContentHash([]byte("C")), res.Record.Images[2].ContentHash)
	require.Len(t, res.Added, 1)
	assert.Equal(t, 1, res.DuplicateImages)
}

func TestWriter_HealsDanglingBlob(t *testing.T) {
	w, store, archive := newTestWriter(true)
	ctx := context.Background()

	first, err := w.Write(ctx, "p1", enum.ImageSourceEmail, []models.CandidateImage{candidate("A")})
	require.NoError(t, err)
	archive.Delete(first.Added[0].Key)

	res, err := w.Write(ctx, "p1", enum.ImageSourceEmail, []models.CandidateImage{candidate("A")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.HealedBlobs)
	assert.Equal(t, 1, store.upserts)

	exists, err := archive.Exists(ctx, first.Added[0].Key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWriter_RetriesTransientPut(t *testing.T) {
	store := repository.NewMemoryPropertyRepository(0)
	archive := &flakyArchive{BlobArchive: storage.NewMemoryBlobArchive(0), failures: 2}
	w := NewWriter(store, archive, testPolicy, false)

	res, err := w.Write(context.Background(), "p1", enum.ImageSourceFeed, []models.CandidateImage{candidate("A")})
	require.NoError(t, err)
	assert.Len(t, res.Added, 1)
	assert.Equal(t, 3, archive.puts)
}

func TestWriter_UpsertFailureWritesNothing(t *testing.T) {
	w, store, _ := newTestWriter(false)
	store.failUpsert = imagestack_errors.Transient("store", errors.New("timeout"))
	ctx := context.Background()

	_, err := w.Write(ctx, "p1", enum.ImageSourceFeed, []models.CandidateImage{candidate("A")})
	require.Error(t, err)
	assert.True(t, imagestack_errors.IsTransient(err))
	assert.Equal(t, testPolicy.MaxAttempts, store.upserts)

	_, err = store.Get(ctx, "p1")
	assert.True(t, imagestack_errors.IsNotFound(err))
}
