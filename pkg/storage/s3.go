package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FirmwareBinaryStore holds firmware images in S3. Metadata lives in the
// firmware table; this store only moves bytes.
type FirmwareBinaryStore struct {
	svc    *s3.Client
	bucket string
}

// NewFirmwareBinaryStore creates an S3-backed binary store
func NewFirmwareBinaryStore(ctx context.Context, region, bucket string) (*FirmwareBinaryStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &FirmwareBinaryStore{
		svc:    s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// Bucket returns the bucket firmware images are stored in
func (s *FirmwareBinaryStore) Bucket() string {
	return s.bucket
}

// Upload stores a firmware image under the given key
func (s *FirmwareBinaryStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"uploaded-at": time.Now().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload firmware image: %w", err)
	}
	return nil
}

// PresignDownload returns a time-limited download URL for a firmware image.
// The OTA dispatcher hands this URL to devices so they pull the image
// directly instead of proxying it through the gateway.
func (s *FirmwareBinaryStore) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.svc)
	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign firmware download: %w", err)
	}
	return out.URL, nil
}
