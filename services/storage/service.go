package storage

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/awsutil"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
	"github.com/customeros/imagestack/services/storage/aws_client"
)

const (
	blobKeyPrefix     = "sha256/"
	retentionRuleID   = "imagestack-blob-retention"
	defaultObjectType = "application/octet-stream"
)

// ObjectBlobArchive implements BlobArchive on an S3 compatible bucket
type ObjectBlobArchive struct {
	client        aws_client.S3Client
	bucketName    string
	retentionDays int
}

type StorageConfig struct {
	BucketName    string
	RetentionDays int
}

func NewObjectBlobArchive(client aws_client.S3Client, config StorageConfig) interfaces.BlobArchive {
	return &ObjectBlobArchive{
		client:        client,
		bucketName:    config.BucketName,
		retentionDays: config.RetentionDays,
	}
}

// Put stores data under its content-addressed key; an existing key is left untouched.
func (s *ObjectBlobArchive) Put(ctx context.Context, data []byte, contentType string) (*models.BlobPutResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectBlobArchive.Put")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	hash := utils.ContentHash(data)
	result := &models.BlobPutResult{
		Key:         utils.BlobKeyForHash(hash),
		ContentHash: hash,
		SizeBytes:   int64(len(data)),
	}
	span.LogKV("key", result.Key, "size", result.SizeBytes)

	exists, err := s.Exists(ctx, result.Key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if exists {
		span.LogKV("result", "exists")
		return result, nil
	}

	if contentType == "" {
		contentType = defaultObjectType
	}
	err = s.client.Upload(ctx, s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(result.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		err = awsutil.ClassifyError("ObjectBlobArchive.Put", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return result, nil
}

func (s *ObjectBlobArchive) Get(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectBlobArchive.Get")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("key", key)

	content, err := s.client.Download(ctx, s.bucketName, key)
	if err != nil {
		err = awsutil.ClassifyError("ObjectBlobArchive.Get", err)
		if imagestack_errors.IsNotFound(err) {
			return nil, imagestack_errors.NotFound("ObjectBlobArchive.Get", errors.Wrap(imagestack_errors.ErrBlobNotFound, key))
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return content, nil
}

func (s *ObjectBlobArchive) Exists(ctx context.Context, key string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectBlobArchive.Exists")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	err := s.client.Head(ctx, s.bucketName, key)
	if err == nil {
		return true, nil
	}
	err = awsutil.ClassifyError("ObjectBlobArchive.Exists", err)
	if imagestack_errors.IsNotFound(err) {
		return false, nil
	}
	tracing.TraceErr(span, err)
	return false, err
}

// EnsureRetention installs the expiration rule for content-addressed blobs.
func (s *ObjectBlobArchive) EnsureRetention(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectBlobArchive.EnsureRetention")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if s.retentionDays <= 0 {
		return nil
	}
	err := s.client.PutExpirationRule(ctx, s.bucketName, retentionRuleID, blobKeyPrefix, s.retentionDays)
	if err != nil {
		err = awsutil.ClassifyError("ObjectBlobArchive.EnsureRetention", err)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
