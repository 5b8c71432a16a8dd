package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachmentObjectPath(t *testing.T) {
	key, err := AttachmentObjectPath("ord_123", " head-photo.jpg ")
	require.NoError(t, err)
	require.Equal(t, "orders/ord_123/attachments/head-photo.jpg", key)

	id, ok := OrderIDFromObjectPath(key)
	require.True(t, ok)
	require.Equal(t, "ord_123", id)
}

func TestAttachmentPathRejectsTraversal(t *testing.T) {
	for _, id := range []string{"", "  ", "../bad", "ord/1", `ord\1`} {
		_, err := AttachmentPrefix(id)
		require.ErrorIs(t, err, errInvalidSegment, id)
	}
	_, err := AttachmentObjectPath("ord_1", "../../etc/passwd")
	require.ErrorIs(t, err, errInvalidSegment)
}

func TestOrderIDFromObjectPathRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{
		"assets/ord_9/invoice.pdf",
		"orders/ord_9/attachments/",
		"orders//attachments/x.pdf",
		"orders/ord_9/photos/x.jpg",
	} {
		_, ok := OrderIDFromObjectPath(key)
		require.False(t, ok, key)
	}
}
