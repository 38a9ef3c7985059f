package storage

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/utils"
)

type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	headErr   error
	lifecycle struct {
		bucket, ruleID, prefix string
		days                   int
	}
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) Upload(_ context.Context, in s3manager.UploadInput) error {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.objects[aws.StringValue(in.Key)] = data
	return nil
}

func (f *fakeS3) Download(_ context.Context, _, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return data, nil
}

func (f *fakeS3) Head(_ context.Context, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return f.headErr
	}
	if _, ok := f.objects[key]; !ok {
		return awserr.NewRequestFailure(awserr.New("NotFound", "not found", nil), 404, "req")
	}
	return nil
}

func (f *fakeS3) PutExpirationRule(_ context.Context, bucket, ruleID, prefix string, days int) error {
	f.lifecycle.bucket, f.lifecycle.ruleID, f.lifecycle.prefix, f.lifecycle.days = bucket, ruleID, prefix, days
	return nil
}

func TestObjectBlobArchive_PutIsContentAddressed(t *testing.T) {
	fake := newFakeS3()
	archive := NewObjectBlobArchive(fake, StorageConfig{BucketName: "images", RetentionDays: 120})
	ctx := context.Background()
	data := []byte("jpeg bytes")

	first, err := archive.Put(ctx, data, "image/jpeg")
	require.NoError(t, err)
	hash := utils.ContentHash(data)
	assert.Equal(t, hash, first.ContentHash)
	assert.Equal(t, "sha256/"+hash[0:2]+"/"+hash[2:4]+"/"+hash, first.Key)
	assert.Equal(t, int64(len(data)), first.SizeBytes)

	second, err := archive.Put(ctx, data, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, fake.uploads)

	got, err := archive.Get(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestObjectBlobArchive_GetMissing(t *testing.T) {
	archive := NewObjectBlobArchive(newFakeS3(), StorageConfig{BucketName: "images"})

	_, err := archive.Get(context.Background(), "sha256/aa/bb/missing")
	require.Error(t, err)
	assert.True(t, imagestack_errors.IsNotFound(err))
	assert.ErrorIs(t, err, imagestack_errors.ErrBlobNotFound)
}

func TestObjectBlobArchive_PutSurfacesTransientHeadFailure(t *testing.T) {
	fake := newFakeS3()
	fake.headErr = awserr.NewRequestFailure(awserr.New("InternalError", "boom", nil), 500, "req")
	archive := NewObjectBlobArchive(fake, StorageConfig{BucketName: "images"})

	_, err := archive.Put(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.True(t, imagestack_errors.IsTransient(err))
	assert.Equal(t, 0, fake.uploads)
}

func TestObjectBlobArchive_EnsureRetention(t *testing.T) {
	fake := newFakeS3()
	archive := NewObjectBlobArchive(fake, StorageConfig{BucketName: "images", RetentionDays: 120})

	require.NoError(t, archive.EnsureRetention(context.Background()))
	assert.Equal(t, "images", fake.lifecycle.bucket)
	assert.Equal(t, "sha256/", fake.lifecycle.prefix)
	assert.Equal(t, 120, fake.lifecycle.days)
}
