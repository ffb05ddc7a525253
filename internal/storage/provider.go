package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// Provider abstracts the object store holding datasets, checkpoints, and
// inference results.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	GetObjectStream(bucket, key string) (io.Reader, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	// DownloadDir fetches every object under prefix into dest, preserving the
	// key structure relative to the prefix.
	DownloadDir(ctx context.Context, bucket, prefix, dest string) error
}
