// Package storage provides the content-addressed blob store backing document
// versions. The workflow engine only ever sees the file reference this
// package returns; it never inspects blob content.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object store connection settings.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

// UploadResult describes a stored blob.
type UploadResult struct {
	Key       string
	SHA256    string
	SizeBytes int64
}

// BlobStore uploads and serves document payloads from a MinIO bucket under
// sha256-derived object keys, so identical payloads share one object.
type BlobStore struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
}

// NewBlobStore connects to the object store and ensures the bucket exists.
func NewBlobStore(ctx context.Context, cfg Config) (*BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	presignTTL := cfg.PresignTTL
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	// MinIO caps presigned URL lifetime at 7 days
	if presignTTL > 7*24*time.Hour {
		presignTTL = 7 * 24 * time.Hour
	}

	return &BlobStore{client: client, bucket: cfg.Bucket, presignTTL: presignTTL}, nil
}

// ObjectKey derives the content-addressed key for a payload digest.
func ObjectKey(sha string) string {
	return fmt.Sprintf("files/%s/%s/%s", sha[:2], sha[2:4], sha)
}

// Put uploads a payload under its content-addressed key and returns the
// key, digest and size for the file record.
func (b *BlobStore) Put(ctx context.Context, data []byte, contentType string) (*UploadResult, error) {
	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])
	key := ObjectKey(sha)

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &UploadResult{Key: key, SHA256: sha, SizeBytes: int64(len(data))}, nil
}

// Get downloads the blob stored under key.
func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// PresignedGet returns a time-limited download URL for key.
func (b *BlobStore) PresignedGet(ctx context.Context, key string) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, b.presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}
