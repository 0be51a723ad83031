package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config configures the owned image bucket.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible providers (MinIO, R2)
	// PublicBaseURL is prefixed to object keys when building public URLs.
	// Defaults to the virtual-hosted bucket URL.
	PublicBaseURL string
}

// S3ImageStore uploads archived listing images to an S3 bucket.
type S3ImageStore struct {
	client  *s3.S3
	bucket  string
	baseURL string
}

// NewS3ImageStore creates an S3 session from the default credential chain.
func NewS3ImageStore(cfg S3Config) (*S3ImageStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3: new session: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3ImageStore{
		client:  s3.New(sess),
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(base, "/"),
	}, nil
}

// Upload writes data to path. PUT overwrites, so repeated archiving of the
// same image is harmless.
func (s *S3ImageStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	key := strings.TrimLeft(path, "/")
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("s3: put %q: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}
