package importer

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/transform"

	"github.com/thephm/sms-backup-md/internal/address"
	"github.com/thephm/sms-backup-md/internal/attachment"
	"github.com/thephm/sms-backup-md/internal/message"
	"github.com/thephm/sms-backup-md/internal/mime"
)

var (
	// ErrFileNotFound is the only per-run failure: the export does not exist.
	ErrFileNotFound = errors.New("could not load messages file")
	// ErrMalformed is returned when the document itself is not well-formed XML.
	ErrMalformed = errors.New("malformed messages file")
)

type Options struct {
	Directory  address.Directory
	Classifier *mime.Classifier
	Extractor  *attachment.Extractor
	Logger     *zap.Logger

	// WriteBeforeAccept writes attachments while parts are decoded instead
	// of after the record is accepted. Rejected records then leave their
	// files behind.
	WriteBeforeAccept bool
}

type Result struct {
	RecordsSeen        int
	SMSSeen            int
	MMSSeen            int
	Accepted           int
	Rejected           int
	Replaced           int
	AttachmentsWritten int
	PartsFailed        int
	AddressesSkipped   int
	Duration           time.Duration
}

func (o Options) withDefaults() Options {
	if o.Classifier == nil {
		o.Classifier = mime.NewClassifier(nil)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Importer loads SMS Backup & Restore exports into a message collection.
// An Importer is read-only after construction; Load calls run sequentially
// on the caller's goroutine.
type Importer struct {
	norm *normalizer
	log  *zap.Logger
}

func New(opts Options) (*Importer, error) {
	opts = opts.withDefaults()
	if opts.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}

	return &Importer{
		norm: &normalizer{
			dir:        opts.Directory,
			classifier: opts.Classifier,
			extractor:  opts.Extractor,
			resolver:   address.NewResolver(opts.Directory),
			writeEarly: opts.WriteBeforeAccept,
		},
		log: opts.Logger,
	}, nil
}

// Load parses the export at path and admits every accepted message into
// into, replacing earlier messages that share an ID. Only a missing file or
// a document that is not well-formed fails the run; in both cases into is
// left untouched. Individual records never fail the run.
func (im *Importer) Load(path string, into *message.Collection) (Result, error) {
	start := time.Now()
	var out Result

	if strings.TrimSpace(path) == "" {
		return out, fmt.Errorf("path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			im.log.Error("could not load messages file", zap.String("path", path))
			return out, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return out, fmt.Errorf("failed to stat messages file: %w", err)
	}
	if info.IsDir() {
		return out, fmt.Errorf("messages file %s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("failed to open messages file: %w", err)
	}
	defer f.Close()

	// Admit into a staging collection so a malformed document leaves the
	// caller's collection as it was.
	staged := message.NewCollection()
	if err := im.walk(f, staged, &out); err != nil {
		im.log.Error("failed to parse messages file", zap.String("path", path), zap.Error(err))
		return Result{}, err
	}

	for _, m := range staged.Messages() {
		if into.Admit(m) {
			out.Replaced++
		}
	}

	out.Duration = time.Since(start)
	im.log.Info("messages loaded",
		zap.String("path", path),
		zap.Int("records", out.RecordsSeen),
		zap.Int("accepted", out.Accepted),
		zap.Int("rejected", out.Rejected),
		zap.Int("replaced", out.Replaced),
		zap.Int("attachments", out.AttachmentsWritten),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

// walk visits every element in document order and dispatches <sms> and
// <mms> records. The decoder streams, so document size is bounded only by
// the largest single record.
func (im *Importer) walk(r io.Reader, staged *message.Collection, out *Result) error {
	dec := xml.NewDecoder(transform.NewReader(bufio.NewReaderSize(r, 1<<20), surrogateRefs{}))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var outcome Outcome
		switch se.Name.Local {
		case tagSMS:
			var rec smsRecord
			if err := dec.DecodeElement(&rec, &se); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			out.SMSSeen++
			outcome = im.norm.normalizeSMS(rec)
		case tagMMS:
			var rec mmsRecord
			if err := dec.DecodeElement(&rec, &se); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			out.MMSSeen++
			outcome = im.norm.normalizeMMS(rec)
		default:
			continue
		}

		out.RecordsSeen++
		im.record(outcome, staged, out)
	}
}

func (im *Importer) record(o Outcome, staged *message.Collection, out *Result) {
	msg := o.Message
	out.AttachmentsWritten += o.Written

	if o.TimestampErr != nil {
		im.log.Debug("unparseable date", zap.String("id", msg.ID), zap.Error(o.TimestampErr))
	}
	for _, p := range o.Parts {
		if p.Outcome != PartFailed {
			continue
		}
		out.PartsFailed++
		im.log.Debug("skipped mms part",
			zap.String("id", msg.ID),
			zap.Int("part", p.Index),
			zap.String("content_type", p.ContentType),
			zap.String("location", p.Location),
			zap.Error(p.Err),
		)
	}
	for _, a := range o.Addresses {
		if a.Outcome != address.Skipped {
			continue
		}
		out.AddressesSkipped++
		im.log.Debug("skipped mms address",
			zap.String("id", msg.ID),
			zap.String("address", a.Entry.Number),
			zap.String("role", a.Entry.Role),
		)
	}

	if !o.Accepted {
		out.Rejected++
		im.log.Debug(string(o.Reason),
			zap.String("kind", msg.Kind),
			zap.String("id", msg.ID),
			zap.String("phone", msg.PhoneNumber),
		)
		return
	}

	out.Accepted++
	if staged.Admit(msg) {
		out.Replaced++
		im.log.Debug("replaced message with duplicate id", zap.String("id", msg.ID), zap.String("kind", msg.Kind))
	}
}
