package storage

import (
	"bytes"
	"context"
	"fmt"

	"ms-stepping/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store puts objects into S3 or any S3-compatible endpoint.
type S3Store struct {
	client *s3.Client
	cfg    config.StorageConfig
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return &S3Store{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg}, nil
}

func NewS3StoreWithClient(client *s3.Client, cfg config.StorageConfig) *S3Store {
	return &S3Store{client: client, cfg: cfg}
}

func (s *S3Store) PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		CacheControl:  aws.String("public, max-age=31536000"),
	})
	return err
}

func (s *S3Store) URL(bucket, key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return publicURL(s.cfg.PublicBaseURL, bucket, key)
	case s.cfg.Endpoint != "":
		return publicURL(s.cfg.Endpoint, bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key)
	}
}
