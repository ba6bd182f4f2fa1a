// Package blob provides object storage for crawl artifacts on MinIO.
//
// Objects are addressed as blob://{bucket}/{key}. Writers return the
// qualified path; readers validate the bucket before resolving the key so a
// message can never point a worker at a foreign bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Scheme prefixes every qualified blob path.
const Scheme = "blob://"

// Content types for stored artifacts.
const (
	ContentTypeHTML = "text/html"
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidPath is returned when a path is not a valid blob:// reference.
var ErrInvalidPath = errors.New("invalid blob path")

// ErrForeignBucket is returned when a qualified path references a bucket
// other than the configured one.
var ErrForeignBucket = errors.New("blob path references a foreign bucket")

// Store reads and writes objects in a single bucket.
type Store struct {
	client *miniogo.Client
	bucket string
}

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string `json:"-"`
	UseSSL    bool
	Bucket    string
}

// NewStore creates a Store and ensures the bucket exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob bucket is required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	store := &Store{client: client, bucket: cfg.Bucket}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if makeErr := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); makeErr != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, makeErr)
		}
	}

	return store, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put writes data under key and returns the qualified blob path.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	reader := bytes.NewReader(data)

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(data)), miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}

	return Qualify(s.bucket, key), nil
}

// Get reads the object addressed by a qualified blob path.
func (s *Store) Get(ctx context.Context, qualified string) ([]byte, error) {
	key, err := s.Resolve(qualified)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", qualified, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var respErr miniogo.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, fmt.Errorf("get %s: %w", qualified, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", qualified, err)
	}

	return data, nil
}

// Resolve validates that the qualified path is inside the configured
// bucket and returns the object key.
func (s *Store) Resolve(qualified string) (string, error) {
	bucket, key, err := Split(qualified)
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("%w: %s", ErrForeignBucket, qualified)
	}
	return key, nil
}

// Qualify builds a qualified blob path from a bucket and key.
func Qualify(bucket, key string) string {
	return Scheme + bucket + "/" + key
}

// Split parses a qualified blob path into bucket and key.
func Split(qualified string) (bucket, key string, err error) {
	if !strings.HasPrefix(qualified, Scheme) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, qualified)
	}

	rest := strings.TrimPrefix(qualified, Scheme)

	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, qualified)
	}

	return bucket, key, nil
}
