package message

import (
	"time"

	"github.com/thephm/sms-backup-md/internal/mime"
)

// Record kinds as tagged in the export.
const (
	KindSMS = "sms"
	KindMMS = "mms"
)

// Attachment references a media file written under the attachments folder.
type Attachment struct {
	ID   string    `json:"id"`
	Type mime.Kind `json:"type"`
}

// Message is one normalised conversation entry.
type Message struct {
	ID          string       `json:"id,omitempty"`
	Kind        string       `json:"kind"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	Timestamp   int64        `json:"timestamp"`
	Body        string       `json:"body,omitempty"`
	FromSlug    string       `json:"from_slug,omitempty"`
	ToSlugs     []string     `json:"to_slugs,omitempty"`
	GroupSlug   string       `json:"group_slug,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HasContent reports whether the message carries a body or an attachment.
func (m *Message) HasContent() bool {
	return m.Body != "" || len(m.Attachments) > 0
}

// Time returns the timestamp as a UTC time, zero if unset.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(m.Timestamp, 0).UTC()
}

// backfill copies content that m lacks from prev, the message it replaces.
// The SMS copy of a group MMS carries neither the group nor the media.
func (m *Message) backfill(prev *Message) {
	if m.Body == "" {
		m.Body = prev.Body
	}
	if m.GroupSlug == "" {
		m.GroupSlug = prev.GroupSlug
	}
	if len(m.Attachments) == 0 && len(prev.Attachments) > 0 {
		m.Attachments = append([]Attachment(nil), prev.Attachments...)
	}
}
