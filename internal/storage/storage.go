// Package storage uploads generated exports to an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("missing S3 configuration")

// Config holds the bucket settings. Every field is required.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

// Complete reports whether cfg has everything needed to connect.
func (c Config) Complete() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

type Storage struct {
	client   *s3.Client
	bucket   string
	endpoint string
}

// New returns ErrNotConfigured when cfg is incomplete; callers treat that as
// "uploads disabled".
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if !cfg.Complete() {
		return nil, ErrNotConfigured
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Storage{client: client, bucket: cfg.Bucket, endpoint: endpoint}, nil
}

// ObjectKey returns a fresh key under the exports prefix.
func ObjectKey(ext string) string {
	return path.Join("exports", uuid.New().String()+ext)
}

// Upload stores body under a new exports/ key and returns its URL. body
// should be seekable when the endpoint is plain HTTP.
func (s *Storage) Upload(ctx context.Context, body io.Reader, contentType string, ext string) (string, error) {
	key := ObjectKey(ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return s.URL(key), nil
}

// URL is the path-style address of key in the bucket.
func (s *Storage) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
}

// Delete removes an object from storage
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
