package storage

import (
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/services/storage/aws_client"
)

// NewBlobArchive builds the archive selected by BLOB_ARCHIVE_BACKEND.
func NewBlobArchive(cfg *config.Config) (interfaces.BlobArchive, error) {
	archiveCfg := cfg.BlobArchiveConfig
	storageCfg := StorageConfig{
		BucketName:    archiveCfg.Bucket,
		RetentionDays: archiveCfg.RetentionDays,
	}

	switch archiveCfg.Backend {
	case enum.BlobArchiveS3:
		client, err := aws_client.NewAWSS3Client(cfg.AWSConfig)
		if err != nil {
			return nil, imagestack_errors.Config("storage.NewBlobArchive", err)
		}
		return NewObjectBlobArchive(client, storageCfg), nil
	case enum.BlobArchiveR2:
		client, err := aws_client.NewR2Client(cfg.R2StorageConfig)
		if err != nil {
			return nil, imagestack_errors.Config("storage.NewBlobArchive", err)
		}
		return NewObjectBlobArchive(client, storageCfg), nil
	case enum.BlobArchiveMemory:
		return NewMemoryBlobArchive(archiveCfg.RetentionDays), nil
	}
	return nil, imagestack_errors.Config("storage.NewBlobArchive", errors.Errorf("unknown blob archive backend %q", archiveCfg.Backend))
}
