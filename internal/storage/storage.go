// Package storage wraps the S3-compatible object store holding upload bodies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mw10013/orgagent/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// Metadata keys carried on every stored object. The queue consumer relies on
// all three being present when it re-fetches an object after a notification.
const (
	metaTenantID       = "Tenant-Id"
	metaName           = "Upload-Name"
	metaIdempotencyKey = "Idempotency-Key"
)

// ObjectInfo describes a stored object and its orgagent metadata.
type ObjectInfo struct {
	Key            string
	TenantID       string
	Name           string
	IdempotencyKey string
	ContentType    string
	Size           int64
	ETag           string
}

// ObjectStore is the object storage interface. Key convention is
// "{tenantID}/{name}".
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, info ObjectInfo) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// S3Store implements ObjectStore against any S3-compatible endpoint via minio-go.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to the configured endpoint and ensures the bucket exists.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, info ObjectInfo) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: info.ContentType,
		UserMetadata: map[string]string{
			metaTenantID:       info.TenantID,
			metaName:           info.Name,
			metaIdempotencyKey: info.IdempotencyKey,
		},
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %q: %w", key, err)
	}
	// GetObject is lazy; Stat forces the first request and surfaces not-found.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("stat object %q: %w", key, err)
	}
	info := objectInfo(key, stat)
	return obj, &info, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object %q: %w", key, err)
	}
	info := objectInfo(key, stat)
	return &info, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func objectInfo(key string, stat minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:            key,
		TenantID:       stat.UserMetadata[metaTenantID],
		Name:           stat.UserMetadata[metaName],
		IdempotencyKey: stat.UserMetadata[metaIdempotencyKey],
		ContentType:    stat.ContentType,
		Size:           stat.Size,
		ETag:           stat.ETag,
	}
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

// ObjectKey builds the storage key for a tenant's upload.
func ObjectKey(tenantID, name string) string {
	return tenantID + "/" + name
}

// SplitKey decomposes a storage key into tenant id and logical name, splitting
// on the first separator. ok is false when either segment is empty.
func SplitKey(key string) (tenantID, name string, ok bool) {
	tenantID, name, found := strings.Cut(key, "/")
	if !found || tenantID == "" || name == "" {
		return "", "", false
	}
	return tenantID, name, true
}

// Compile-time check that S3Store implements ObjectStore.
var _ ObjectStore = (*S3Store)(nil)
