package services

import (
	"regexp"
	"strings"
	"time"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// DefaultAttachmentWindow bounds how far an upload may drift from a history row.
const DefaultAttachmentWindow = 2 * time.Minute

var fileNamePattern = regexp.MustCompile(`[\w\-.]+\.[A-Za-z0-9]{1,8}\b`)

// AttachmentCorrelator links uploads to history rows by upload time and, when the row's
// comment names files, by file name. The link is a heuristic and never a stored reference.
type AttachmentCorrelator struct {
	window time.Duration
}

// NewAttachmentCorrelator falls back to DefaultAttachmentWindow for non-positive windows.
func NewAttachmentCorrelator(window time.Duration) *AttachmentCorrelator {
	if window <= 0 {
		window = DefaultAttachmentWindow
	}
	return &AttachmentCorrelator{window: window}
}

// Correlate attaches matching uploads to each entry and returns the entries.
func (c *AttachmentCorrelator) Correlate(entries []domain.OrderHistory, attachments []domain.Attachment) []domain.OrderHistory {
	if c == nil || len(attachments) == 0 {
		return entries
	}
	for i := range entries {
		entries[i].Attachments = c.match(entries[i], attachments)
	}
	return entries
}

func (c *AttachmentCorrelator) match(entry domain.OrderHistory, attachments []domain.Attachment) []domain.Attachment {
	var named []string
	if entry.Comment != nil {
		named = fileNamePattern.FindAllString(strings.ToLower(*entry.Comment), -1)
	}

	var out []domain.Attachment
	for _, att := range attachments {
		if att.UploadedAt.IsZero() || absDuration(att.UploadedAt.Sub(entry.CreatedAt)) > c.window {
			continue
		}
		if len(named) > 0 && !mentions(named, att.FileName) {
			continue
		}
		out = append(out, att)
	}
	return out
}

func mentions(named []string, fileName string) bool {
	name := strings.ToLower(strings.TrimSpace(fileName))
	if name == "" {
		return false
	}
	for _, candidate := range named {
		if candidate == name {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
