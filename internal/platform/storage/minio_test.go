package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

const minioListing = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>shop</Name>
  <Prefix>orders/ord_2/attachments/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>orders/ord_2/attachments/measurements.pdf</Key>
    <LastModified>2025-03-02T10:15:00.000Z</LastModified>
    <ETag>"a1"</ETag>
    <Size>900</Size>
    <StorageClass>STANDARD</StorageClass>
    <UserMetadata>
      <X-Amz-Meta-Uploaded-By>emp_tech</X-Amz-Meta-Uploaded-By>
      <content-type>application/pdf</content-type>
    </UserMetadata>
  </Contents>
  <Contents>
    <Key>orders/ord_2/attachments/block.png</Key>
    <LastModified>2025-03-02T10:00:00.000Z</LastModified>
    <ETag>"b2"</ETag>
    <Size>4096</Size>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
</ListBucketResult>`

func newMinIOTestStore(t *testing.T, handler http.HandlerFunc) *MinIOAttachmentStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	endpoint := strings.TrimPrefix(srv.URL, "http://")
	client, err := NewMinIOClient(MinIOOptions{
		Endpoint:  endpoint,
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewMinIOClient: %v", err)
	}
	store, err := NewMinIOAttachmentStore(client, "shop", 3*time.Minute)
	if err != nil {
		t.Fatalf("NewMinIOAttachmentStore: %v", err)
	}
	return store
}

func TestMinIOAttachmentStoreListsOrderPrefix(t *testing.T) {
	var gotPrefix string
	store := newMinIOTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotPrefix = r.URL.Query().Get("prefix")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(minioListing))
	})

	items, err := store.ListAttachments(context.Background(), "ord_2")
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if gotPrefix != "orders/ord_2/attachments/" {
		t.Fatalf("unexpected prefix %q", gotPrefix)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(items))
	}
	if items[0].FileName != "block.png" {
		t.Fatalf("expected oldest upload first, got %q", items[0].FileName)
	}
	if items[1].UploadedBy != "emp_tech" || items[1].MimeType != "application/pdf" || items[1].Size != 900 {
		t.Fatalf("unexpected attachment %+v", items[1])
	}
}

func TestMinIOAttachmentStoreSurfacesListErrors(t *testing.T) {
	store := newMinIOTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	})
	if _, err := store.ListAttachments(context.Background(), "ord_2"); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestMinIOAttachmentStorePresignsDownload(t *testing.T) {
	store := newMinIOTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("presigning must not call the server")
	})

	raw, err := store.DownloadURL(context.Background(), "orders/ord_2/attachments/block.png")
	if err != nil {
		t.Fatalf("DownloadURL: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Path != "/shop/orders/ord_2/attachments/block.png" {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	if got := parsed.Query().Get("X-Amz-Expires"); got != "180" {
		t.Fatalf("expected 180s expiry, got %q", got)
	}
	if _, err := store.DownloadURL(context.Background(), ""); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestMinIOAttachmentStorePing(t *testing.T) {
	store := newMinIOTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	missing := newMinIOTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := missing.Ping(context.Background()); err == nil {
		t.Fatalf("expected missing bucket to fail the probe")
	}
}
