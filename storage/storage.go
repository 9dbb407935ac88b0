// Package storage defines the object storage facade consumed by the
// coordinator. Implementations provide bucket management, presigned access
// and the multipart upload lifecycle used for large zkey artifacts.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/zkmpc/ceremonyd/ceremony/types"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size int64
	ETag string
}

// BlobStore is the byte-addressable object store behind every ceremony
// bucket. Presigned URLs grant clients direct, short-lived GET or PUT access
// without going through the coordinator.
type BlobStore interface {
	// CreateBucket creates the bucket for a ceremony. Creating a bucket
	// that already exists is an error.
	CreateBucket(ctx context.Context, bucket string) error
	// HeadObject returns metadata of a stored object.
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	// DeleteObject removes a stored object.
	DeleteObject(ctx context.Context, bucket, key string) error
	// PresignGetURL returns a presigned GET URL valid for the given
	// duration.
	PresignGetURL(ctx context.Context, bucket, key string, expire time.Duration) (string, error)
	// Download streams an object into w.
	Download(ctx context.Context, bucket, key string, w io.WriterAt) error
	// Upload streams r into an object. Public uploads are readable without
	// credentials.
	Upload(ctx context.Context, bucket, key string, r io.Reader, public bool) error
	// StartMultipartUpload opens a multipart upload and returns its id.
	StartMultipartUpload(ctx context.Context, bucket, key string) (string, error)
	// PresignUploadParts returns one presigned PUT URL per part of an open
	// multipart upload.
	PresignUploadParts(ctx context.Context, bucket, key, uploadID string, parts int, expire time.Duration) ([]string, error)
	// CompleteMultipartUpload closes a multipart upload from its recorded
	// part etags and returns the object location.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Chunk) (string, error)
}
