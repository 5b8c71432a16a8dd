package storage

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// Object metadata keys written by the upload flow.
const (
	MetadataUploadedBy       = "uploaded-by"
	MetadataOriginalFileName = "original-filename"
)

const defaultDownloadURLExpiry = 5 * time.Minute

// maxDownloadURLExpiry caps download links regardless of configuration.
const maxDownloadURLExpiry = 15 * time.Minute

var (
	// ErrSigningUnavailable is returned when the store was built without signing credentials.
	ErrSigningUnavailable = errors.New("storage: download url signing is not configured")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
)

// AttachmentStore lists order uploads and issues short-lived download links for them.
type AttachmentStore interface {
	ListAttachments(ctx context.Context, orderID string) ([]domain.Attachment, error)
	DownloadURL(ctx context.Context, key string) (string, error)
	// Ping verifies the bucket is reachable. Used by readiness probes.
	Ping(ctx context.Context) error
}

type objectRecord struct {
	Key         string
	ContentType string
	Size        int64
	CreatedAt   time.Time
	Metadata    map[string]string
}

// toAttachment maps a listed object to the domain shape. Directory placeholders are skipped.
func toAttachment(obj objectRecord) (domain.Attachment, bool) {
	key := strings.TrimSpace(obj.Key)
	if key == "" || strings.HasSuffix(key, "/") {
		return domain.Attachment{}, false
	}
	name := metadataValue(obj.Metadata, MetadataOriginalFileName)
	if name == "" {
		name = path.Base(key)
	}
	return domain.Attachment{
		Key:        key,
		FileName:   name,
		MimeType:   strings.TrimSpace(obj.ContentType),
		Size:       obj.Size,
		UploadedBy: metadataValue(obj.Metadata, MetadataUploadedBy),
		UploadedAt: obj.CreatedAt.UTC(),
	}, true
}

// metadataValue looks a key up case-insensitively, tolerating the S3 x-amz-meta- prefix.
func metadataValue(metadata map[string]string, key string) string {
	for k, v := range metadata {
		name := strings.ToLower(strings.TrimSpace(k))
		name = strings.TrimPrefix(name, "x-amz-meta-")
		if name == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func sortAttachments(items []domain.Attachment) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UploadedAt.Equal(items[j].UploadedAt) {
			return items[i].Key < items[j].Key
		}
		return items[i].UploadedAt.Before(items[j].UploadedAt)
	})
}

func normaliseExpiry(expiry time.Duration) (time.Duration, error) {
	if expiry <= 0 {
		return defaultDownloadURLExpiry, nil
	}
	if expiry > maxDownloadURLExpiry {
		return 0, errExpiryTooLong
	}
	return expiry, nil
}

// ensureOrderKey rejects keys outside the attachments layout so links cannot be minted for arbitrary objects.
func ensureOrderKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errInvalidObject
	}
	if _, ok := OrderIDFromObjectPath(key); !ok || strings.Contains(key, "..") {
		return "", errInvalidObject
	}
	return key, nil
}
