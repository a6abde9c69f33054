// Package attachment decodes MMS part payloads and stores them as files
// named after the part's content location.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thephm/sms-backup-md/internal/message"
	"github.com/thephm/sms-backup-md/internal/mime"
)

// NullID is what the exporter writes when a part has no content location.
const NullID = "null"

var (
	// ErrNoID marks a part without a usable content location. Callers drop
	// such parts silently.
	ErrNoID = errors.New("attachment has no content location")
	// ErrInvalidID marks a content location that cannot be used as a file name.
	ErrInvalidID = errors.New("invalid attachment content location")
	// ErrDecode wraps base64 decode failures.
	ErrDecode = errors.New("failed to decode attachment payload")
)

// Pending is a decoded payload that has not been written yet.
type Pending struct {
	Attachment message.Attachment
	data       []byte
}

// Size returns the decoded payload length.
func (p *Pending) Size() int { return len(p.data) }

// Extractor writes attachments under a single directory.
type Extractor struct {
	dir string
}

// NewExtractor returns an extractor rooted at dir. The directory is created
// on first write.
func NewExtractor(dir string) (*Extractor, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("attachments directory is required")
	}
	return &Extractor{dir: dir}, nil
}

// Dir returns the attachments directory.
func (e *Extractor) Dir() string { return e.dir }

// Path returns where the attachment with the given id is stored.
func (e *Extractor) Path(id string) string {
	return filepath.Join(e.dir, id)
}

// Decode validates id and decodes payload without touching the filesystem.
func (e *Extractor) Decode(id string, kind mime.Kind, payload string) (*Pending, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == NullID {
		return nil, ErrNoID
	}
	if id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrDecode, id, err)
	}

	return &Pending{
		Attachment: message.Attachment{ID: id, Type: kind},
		data:       data,
	}, nil
}

// Write stores a decoded payload. The bytes are released afterwards.
func (e *Extractor) Write(p *Pending) error {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("failed to create attachments directory: %w", err)
	}
	path := e.Path(p.Attachment.ID)
	if err := os.WriteFile(path, p.data, 0644); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", p.Attachment.ID, err)
	}
	p.data = nil
	return nil
}

// Extract decodes and writes in one step.
func (e *Extractor) Extract(id string, kind mime.Kind, payload string) (message.Attachment, error) {
	p, err := e.Decode(id, kind, payload)
	if err != nil {
		return message.Attachment{}, err
	}
	if err := e.Write(p); err != nil {
		return message.Attachment{}, err
	}
	return p.Attachment, nil
}

// decodeBase64 accepts padded or unpadded input with embedded line breaks.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
