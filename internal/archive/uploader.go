// Package archive uploads run artifacts (results CSVs) to S3-compatible
// object storage so operators can inspect historical runs without keeping
// local files around.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const resultsContentType = "text/csv"

// Config holds the connection settings for the archive bucket. Endpoint is
// optional: when set, the client talks to an S3-compatible store (MinIO,
// Ceph RGW) using path-style addressing.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string `json:"-"`
}

// ObjectPutter is the slice of the S3 API the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes run artifacts under <prefix>/<runID>/<filename>.
type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewUploader builds an S3 client from cfg and returns an Uploader bound to
// the configured bucket.
func NewUploader(ctx context.Context, cfg Config, logger *slog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Upload stores the reader's contents under the run's key and returns the
// object key it wrote.
func (u *Uploader) Upload(ctx context.Context, runID, filename string, r io.Reader) (string, error) {
	key := path.Join(u.prefix, runID, filename)
	start := time.Now()

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(resultsContentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}

	u.logger.Info("archived run results",
		"bucket", u.bucket,
		"key", key,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return key, nil
}
