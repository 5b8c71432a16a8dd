package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// MinIOOptions configure the S3-compatible client.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region skips the bucket location lookup when set.
	Region string
}

// NewMinIOClient dials an S3-compatible endpoint with static credentials.
func NewMinIOClient(opts MinIOOptions) (*minio.Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("storage: minio endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: strings.TrimSpace(opts.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}
	return client, nil
}

// MinIOAttachmentStore lists order uploads from an S3-compatible bucket.
type MinIOAttachmentStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

var _ AttachmentStore = (*MinIOAttachmentStore)(nil)

// NewMinIOAttachmentStore constructs a store over the given bucket.
func NewMinIOAttachmentStore(client *minio.Client, bucket string, expiry time.Duration) (*MinIOAttachmentStore, error) {
	if client == nil {
		return nil, errors.New("storage: minio client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	expiry, err := normaliseExpiry(expiry)
	if err != nil {
		return nil, err
	}
	return &MinIOAttachmentStore{client: client, bucket: bucket, expiry: expiry}, nil
}

// ListAttachments returns the order's uploads oldest first.
func (s *MinIOAttachmentStore) ListAttachments(ctx context.Context, orderID string) ([]domain.Attachment, error) {
	prefix, err := AttachmentPrefix(orderID)
	if err != nil {
		return nil, err
	}

	var out []domain.Attachment
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("storage: list minio objects: %w", obj.Err)
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = metadataValue(obj.UserMetadata, "content-type")
		}
		att, ok := toAttachment(objectRecord{
			Key:         obj.Key,
			ContentType: contentType,
			Size:        obj.Size,
			CreatedAt:   obj.LastModified,
			Metadata:    obj.UserMetadata,
		})
		if ok {
			out = append(out, att)
		}
	}
	sortAttachments(out)
	return out, nil
}

// DownloadURL presigns a GET link for one attachment.
func (s *MinIOAttachmentStore) DownloadURL(ctx context.Context, key string) (string, error) {
	key, err := ensureOrderKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("storage: presign download url: %w", err)
	}
	return u.String(), nil
}

func (s *MinIOAttachmentStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: minio bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("storage: minio bucket %s does not exist", s.bucket)
	}
	return nil
}
