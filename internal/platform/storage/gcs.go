package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// GCSAttachmentStore lists order uploads from a Cloud Storage bucket.
type GCSAttachmentStore struct {
	client *gcs.Client
	bucket string
	signer Signer
	expiry time.Duration
	now    func() time.Time
}

var _ AttachmentStore = (*GCSAttachmentStore)(nil)

// GCSOption customises the Cloud Storage store.
type GCSOption func(*GCSAttachmentStore)

// WithSigner enables V4 signed download URLs.
func WithSigner(signer Signer) GCSOption {
	return func(s *GCSAttachmentStore) {
		s.signer = signer
	}
}

// WithDownloadExpiry overrides how long signed links stay valid.
func WithDownloadExpiry(expiry time.Duration) GCSOption {
	return func(s *GCSAttachmentStore) {
		s.expiry = expiry
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) GCSOption {
	return func(s *GCSAttachmentStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewGCSAttachmentStore constructs a store over the given bucket.
func NewGCSAttachmentStore(client *gcs.Client, bucket string, opts ...GCSOption) (*GCSAttachmentStore, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	store := &GCSAttachmentStore{client: client, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	expiry, err := normaliseExpiry(store.expiry)
	if err != nil {
		return nil, err
	}
	store.expiry = expiry
	return store, nil
}

// ListAttachments returns the order's uploads oldest first.
func (s *GCSAttachmentStore) ListAttachments(ctx context.Context, orderID string) ([]domain.Attachment, error) {
	prefix, err := AttachmentPrefix(orderID)
	if err != nil {
		return nil, err
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []domain.Attachment
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: list gcs objects: %w", err)
		}
		created := attrs.Created
		if created.IsZero() {
			created = attrs.Updated
		}
		att, ok := toAttachment(objectRecord{
			Key:         attrs.Name,
			ContentType: attrs.ContentType,
			Size:        attrs.Size,
			CreatedAt:   created,
			Metadata:    attrs.Metadata,
		})
		if ok {
			out = append(out, att)
		}
	}
	sortAttachments(out)
	return out, nil
}

// DownloadURL signs a GET link for one attachment.
func (s *GCSAttachmentStore) DownloadURL(ctx context.Context, key string) (string, error) {
	if s.signer == nil || strings.TrimSpace(s.signer.Email()) == "" {
		return "", ErrSigningUnavailable
	}
	key, err := ensureOrderKey(key)
	if err != nil {
		return "", err
	}
	signed, err := gcs.SignedURL(s.bucket, key, &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(s.expiry),
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}

// Ping reads the bucket attributes.
func (s *GCSAttachmentStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("storage: gcs bucket %s: %w", s.bucket, err)
	}
	return nil
}
