// Package mime maps MMS part content types to attachment kinds.
package mime

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the internal attachment type tag. For binary kinds it doubles as
// the conventional file extension.
type Kind string

const (
	// KindText marks a part whose text lives inline on the part and becomes
	// the message body.
	KindText Kind = "txt"
	// KindStructural marks a multipart envelope part (SMIL layout) that has
	// no payload of its own.
	KindStructural Kind = "smil"

	KindJPG  Kind = "jpg"
	KindPNG  Kind = "png"
	KindGIF  Kind = "gif"
	KindBMP  Kind = "bmp"
	KindPDF  Kind = "pdf"
	KindMP4  Kind = "mp4"
	Kind3GP  Kind = "3gp"
	KindAMR  Kind = "amr"
	KindVCF  Kind = "vcf"
	KindHEIC Kind = "heic"
)

// ErrUnknownType is returned for content types missing from the table.
var ErrUnknownType = errors.New("unknown MIME type")

// IsAttachment reports whether parts of this kind carry a binary payload.
func (k Kind) IsAttachment() bool {
	return k != "" && k != KindText && k != KindStructural
}

// DefaultTable returns a fresh copy of the built-in content type table.
func DefaultTable() map[string]Kind {
	return map[string]Kind{
		"text/plain":       KindText,
		"application/smil": KindStructural,
		"image/jpeg":       KindJPG,
		"image/jpg":        KindJPG,
		"image/png":        KindPNG,
		"image/gif":        KindGIF,
		"image/bmp":        KindBMP,
		"image/x-ms-bmp":   KindBMP,
		"image/heic":       KindHEIC,
		"application/pdf":  KindPDF,
		"video/mp4":        KindMP4,
		"video/3gpp":       Kind3GP,
		"audio/amr":        KindAMR,
		"text/x-vcard":     KindVCF,
		"text/vcard":       KindVCF,
	}
}

// Classifier resolves content types through a fixed table.
type Classifier struct {
	table map[string]Kind
}

// NewClassifier returns a classifier over the built-in table with overrides
// merged on top. Override keys are content types, values are kind tags.
func NewClassifier(overrides map[string]string) *Classifier {
	table := DefaultTable()
	for ct, kind := range overrides {
		ct = normalizeType(ct)
		kind = strings.ToLower(strings.TrimSpace(kind))
		if ct == "" || kind == "" {
			continue
		}
		table[ct] = Kind(kind)
	}
	return &Classifier{table: table}
}

// Classify maps a wire content type (parameters allowed) to its kind.
func (c *Classifier) Classify(contentType string) (Kind, error) {
	ct := normalizeType(contentType)
	if kind, ok := c.table[ct]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, contentType)
}

func normalizeType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
