package aws_client

import (
	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/internal/awsutil"
)

// NewR2Client creates an S3Client configured for Cloudflare R2
func NewR2Client(cfg *config.R2StorageConfig) (S3Client, error) {
	s, err := awsutil.NewR2Session(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3Client(s), nil
}

// NewAWSS3Client creates an S3Client for AWS S3, or an S3 compatible endpoint when configured.
func NewAWSS3Client(cfg *config.AWSConfig) (S3Client, error) {
	s, err := awsutil.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3Client(s), nil
}
