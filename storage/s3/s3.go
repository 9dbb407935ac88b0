// Package s3 implements the coordinator blob store on Amazon S3 or any
// S3-compatible endpoint.
package s3

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/storage"
)

var log = logrus.WithField("prefix", "s3")

// Config holds the credentials and endpoint of the backing S3 service.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint optionally points at an S3-compatible service. Empty selects
	// AWS proper.
	Endpoint string
}

// Store implements storage.BlobStore on the AWS S3 API.
type Store struct {
	svc        *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

var _ storage.BlobStore = (*Store)(nil)

// New connects a blob store to the configured S3 service.
func New(cfg *Config) (*Store, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not create AWS session")
	}
	return &Store{
		svc:        s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

// CreateBucket creates the ceremony bucket with public-read objects allowed.
func (s *Store) CreateBucket(ctx context.Context, bucket string) error {
	_, err := s.svc.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return errors.Wrapf(errs.ErrStorageFailure, "could not create bucket %q: %v", bucket, err)
	}
	log.WithField("bucket", bucket).Info("Created ceremony bucket")
	return nil
}

// HeadObject returns metadata of a stored object.
func (s *Store) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	out, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(errs.ErrStorageFailure, "could not head object %q: %v", key, err)
	}
	return &storage.ObjectInfo{
		Size: aws.Int64Value(out.ContentLength),
		ETag: aws.StringValue(out.ETag),
	}, nil
}

// DeleteObject removes a stored object.
func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(errs.ErrStorageFailure, "could not delete object %q: %v", key, err)
	}
	return nil
}

// PresignGetURL returns a presigned GET URL valid for the given duration.
func (s *Store) PresignGetURL(_ context.Context, bucket, key string, expire time.Duration) (string, error) {
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expire)
	if err != nil {
		return "", errors.Wrapf(errs.ErrStorageFailure, "could not presign GET for %q: %v", key, err)
	}
	return url, nil
}

// Download streams an object into w.
func (s *Store) Download(ctx context.Context, bucket, key string, w io.WriterAt) error {
	_, err := s.downloader.DownloadWithContext(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(errs.ErrStorageFailure, "could not download %q: %v", key, err)
	}
	return nil
}

// Upload streams r into an object, optionally with a public-read ACL.
func (s *Store) Upload(ctx context.Context, bucket, key string, r io.Reader, public bool) error {
	in := &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if public {
		in.ACL = aws.String(s3.ObjectCannedACLPublicRead)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return errors.Wrapf(errs.ErrStorageFailure, "could not upload %q: %v", key, err)
	}
	return nil
}

// StartMultipartUpload opens a multipart upload and returns its id.
func (s *Store) StartMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	out, err := s.svc.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.Wrapf(errs.ErrStorageFailure, "could not start multipart upload for %q: %v", key, err)
	}
	return aws.StringValue(out.UploadId), nil
}

// PresignUploadParts returns one presigned PUT URL per part of an open
// multipart upload.
func (s *Store) PresignUploadParts(_ context.Context, bucket, key, uploadID string, parts int, expire time.Duration) ([]string, error) {
	urls := make([]string, 0, parts)
	for part := 1; part <= parts; part++ {
		req, _ := s.svc.UploadPartRequest(&s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int64(int64(part)),
		})
		url, err := req.Presign(expire)
		if err != nil {
			return nil, errors.Wrapf(errs.ErrStorageFailure, "could not presign part %d of %q: %v", part, key, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// CompleteMultipartUpload closes a multipart upload from its recorded part
// etags and returns the object location.
func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []types.Chunk) (string, error) {
	completed := make([]*s3.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = &s3.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int64(p.PartNumber),
		}
	}
	out, err := s.svc.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", errors.Wrapf(errs.ErrStorageFailure, "could not complete multipart upload for %q: %v", key, err)
	}
	return aws.StringValue(out.Location), nil
}
