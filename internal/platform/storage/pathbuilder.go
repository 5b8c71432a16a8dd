package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Object keys follow orders/<orderID>/attachments/<file>. Order responses list everything
// under the prefix, so nothing else may be written there.
const (
	attachmentsRoot = "orders"
	attachmentsDir  = "attachments"
)

var errInvalidSegment = errors.New("storage: invalid key segment")

func AttachmentPrefix(orderID string) (string, error) {
	id, err := keySegment("order id", orderID)
	if err != nil {
		return "", err
	}
	return attachmentsRoot + "/" + id + "/" + attachmentsDir + "/", nil
}

func AttachmentObjectPath(orderID, fileName string) (string, error) {
	prefix, err := AttachmentPrefix(orderID)
	if err != nil {
		return "", err
	}
	name, err := keySegment("file name", fileName)
	if err != nil {
		return "", err
	}
	return prefix + name, nil
}

// OrderIDFromObjectPath is the inverse of AttachmentObjectPath. It rejects prefixes alone.
func OrderIDFromObjectPath(key string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(key), attachmentsRoot+"/")
	if !ok {
		return "", false
	}
	orderID, rest, ok := strings.Cut(rest, "/")
	if !ok || orderID == "" {
		return "", false
	}
	name, ok := strings.CutPrefix(rest, attachmentsDir+"/")
	if !ok || name == "" {
		return "", false
	}
	return orderID, true
}

// keySegment trims value and refuses separators and parent references.
func keySegment(label, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("%w: %s is required", errInvalidSegment, label)
	case strings.ContainsAny(value, `/\`), strings.Contains(value, ".."):
		return "", fmt.Errorf("%w: %s %q", errInvalidSegment, label, value)
	}
	return value, nil
}
