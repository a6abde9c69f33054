package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thephm/sms-backup-md/internal/address"
	"github.com/thephm/sms-backup-md/internal/attachment"
	"github.com/thephm/sms-backup-md/internal/message"
	"github.com/thephm/sms-backup-md/internal/mime"
)

// RejectReason says why a record produced no message.
type RejectReason string

const (
	RejectShortAddress  RejectReason = "address too short"
	RejectUnknownNumber RejectReason = "unknown phone number"
	RejectUnknownType   RejectReason = "unknown sms type"
	RejectNoDirection   RejectReason = "no sender or recipient resolved"
	RejectEmpty         RejectReason = "no message body or attachment"
)

// PartOutcome classifies what happened to one MMS part.
type PartOutcome int

const (
	PartAttached PartOutcome = iota
	PartBody
	PartStructural
	// PartDropped: the part has no content location; dropped without error.
	PartDropped
	PartFailed
)

func (o PartOutcome) String() string {
	switch o {
	case PartAttached:
		return "attached"
	case PartBody:
		return "body"
	case PartStructural:
		return "structural"
	case PartDropped:
		return "dropped"
	case PartFailed:
		return "failed"
	default:
		return fmt.Sprintf("part(%d)", int(o))
	}
}

// PartResult records the handling of one MMS part.
type PartResult struct {
	Index       int
	ContentType string
	Location    string
	Kind        mime.Kind
	Outcome     PartOutcome
	Err         error
}

// Outcome is the result of normalising one record.
type Outcome struct {
	Message      *message.Message
	Accepted     bool
	Reason       RejectReason
	Parts        []PartResult
	Addresses    []address.Result
	TimestampErr error
	// Written counts attachment files written for this record.
	Written int

	pending []pendingPart
}

type pendingPart struct {
	index int
	p     *attachment.Pending
}

// normalizer turns raw records into messages. It holds only read-only
// collaborators and keeps no per-record state between calls.
type normalizer struct {
	dir        address.Directory
	classifier *mime.Classifier
	extractor  *attachment.Extractor
	resolver   *address.Resolver
	writeEarly bool
}

func (n *normalizer) common(msg *message.Message, addr, date string, out *Outcome) {
	msg.PhoneNumber = addr
	ts, err := parseTimestamp(date)
	if err != nil {
		out.TimestampErr = err
		return
	}
	msg.Timestamp = ts
}

func (n *normalizer) normalizeSMS(rec smsRecord) Outcome {
	msg := &message.Message{
		Kind: message.KindSMS,
		ID:   strings.TrimSpace(rec.MessageID),
		Body: rec.Body,
	}
	out := Outcome{Message: msg}
	n.common(msg, rec.Address, rec.Date, &out)

	resolved := false
	phone := strings.TrimSpace(msg.PhoneNumber)
	if len(phone) < minPhoneLength {
		out.Reason = RejectShortAddress
	} else if who, ok := n.dir.FindByNumber(phone); !ok {
		out.Reason = RejectUnknownNumber
	} else {
		self := n.dir.Self()
		switch rec.Type {
		case smsReceived:
			msg.FromSlug = who.Slug
			msg.ToSlugs = append(msg.ToSlugs, self.Slug)
			resolved = true
		case smsSent:
			msg.FromSlug = self.Slug
			msg.ToSlugs = append(msg.ToSlugs, who.Slug)
			resolved = true
		default:
			out.Reason = RejectUnknownType
		}
	}

	n.accept(&out, resolved)
	return out
}

func (n *normalizer) normalizeMMS(rec mmsRecord) Outcome {
	msg := &message.Message{
		Kind: message.KindMMS,
		ID:   strings.TrimSpace(rec.MessageID),
	}
	out := Outcome{Message: msg}
	n.common(msg, rec.Address, rec.Date, &out)

	for i, part := range rec.Parts {
		out.Parts = append(out.Parts, n.part(i, part, &out))
	}

	entries := make([]address.Entry, 0, len(rec.Addrs))
	for _, a := range rec.Addrs {
		entries = append(entries, address.Entry{Number: a.Address, Role: a.Type})
	}
	res := n.resolver.Resolve(entries, msg)
	out.Addresses = res.Results

	n.accept(&out, res.Resolved)
	if out.Accepted && len(out.pending) > 0 {
		n.flush(&out)
	}
	return out
}

func (n *normalizer) part(i int, part mmsPart, out *Outcome) PartResult {
	pr := PartResult{Index: i, ContentType: part.ContentType, Location: part.Location}

	kind, err := n.classifier.Classify(part.ContentType)
	if err != nil {
		pr.Outcome = PartFailed
		pr.Err = err
		return pr
	}
	pr.Kind = kind

	switch {
	case kind == mime.KindText:
		out.Message.Body = part.Text
		pr.Outcome = PartBody
		return pr
	case !kind.IsAttachment():
		pr.Outcome = PartStructural
		return pr
	}

	if n.writeEarly {
		a, err := n.extractor.Extract(part.Location, kind, part.Data)
		if err != nil {
			return partError(pr, err)
		}
		out.Message.Attachments = append(out.Message.Attachments, a)
		out.Written++
		pr.Outcome = PartAttached
		return pr
	}

	p, err := n.extractor.Decode(part.Location, kind, part.Data)
	if err != nil {
		return partError(pr, err)
	}
	out.Message.Attachments = append(out.Message.Attachments, p.Attachment)
	out.pending = append(out.pending, pendingPart{index: i, p: p})
	pr.Outcome = PartAttached
	return pr
}

func partError(pr PartResult, err error) PartResult {
	if errors.Is(err, attachment.ErrNoID) {
		pr.Outcome = PartDropped
		return pr
	}
	pr.Outcome = PartFailed
	pr.Err = err
	return pr
}

// flush writes deferred attachments of an accepted record. Parts that fail
// to write are removed from the message, which may then lose acceptance.
func (n *normalizer) flush(out *Outcome) {
	kept := make([]message.Attachment, 0, len(out.pending))
	for _, pp := range out.pending {
		if err := n.extractor.Write(pp.p); err != nil {
			out.Parts[pp.index].Outcome = PartFailed
			out.Parts[pp.index].Err = err
			continue
		}
		out.Written++
		kept = append(kept, pp.p.Attachment)
	}
	out.Message.Attachments = kept
	out.pending = nil

	if !out.Message.HasContent() {
		out.Accepted = false
		out.Reason = RejectEmpty
	}
}

func (n *normalizer) accept(out *Outcome, resolved bool) {
	switch {
	case !resolved:
		if out.Reason == "" {
			out.Reason = RejectNoDirection
		}
	case !out.Message.HasContent():
		out.Reason = RejectEmpty
	default:
		out.Accepted = true
		out.Reason = ""
	}
}
