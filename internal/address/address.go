// Package address resolves MMS <addr> entries to identity slugs and decides
// sender, recipients and group membership for a message.
package address

import (
	"fmt"

	"github.com/thephm/sms-backup-md/internal/identity"
	"github.com/thephm/sms-backup-md/internal/message"
)

// Role codes carried in the addr "type" attribute.
const (
	RoleBCC  = "129"
	RoleCC   = "130"
	RoleFrom = "137"
	RoleTo   = "151"
)

// PlaceholderToken is written by some Android exports in place of an address
// they could not recover. It is treated as the export owner.
const PlaceholderToken = "insert-address-token"

// Directory is the identity lookup the resolver needs.
type Directory interface {
	Self() identity.Identity
	Normalize(number string) string
	FindByNumber(number string) (identity.Identity, bool)
	GroupSlug(numbers []string) string
}

// Entry is one raw <addr> element.
type Entry struct {
	Number string
	Role   string
}

// Outcome classifies what happened to a single entry.
type Outcome int

const (
	// Assigned: the entry resolved and filled the sender or a recipient.
	Assigned Outcome = iota
	// Ignored: the entry resolved but its role carries no direction.
	Ignored
	// Skipped: the number is unknown to the directory.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Assigned:
		return "assigned"
	case Ignored:
		return "ignored"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the per-entry resolution record.
type Result struct {
	Entry   Entry
	Slug    string
	Outcome Outcome
	Err     error
}

// Resolution summarises one message's address list.
type Resolution struct {
	Results []Result
	// Numbers is the ordered distinct participant set, self included.
	Numbers []string
	// Resolved is true when at least one directional assignment was made.
	Resolved bool
}

// Resolver applies address entries to messages.
type Resolver struct {
	dir Directory
}

// NewResolver returns a resolver backed by dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve assigns FromSlug, ToSlugs and GroupSlug on msg from entries.
// Unknown numbers are skipped individually and never abort the message.
func (r *Resolver) Resolve(entries []Entry, msg *message.Message) Resolution {
	self := r.dir.Self()
	selfNumber := r.dir.Normalize(self.Mobile)

	var (
		res      Resolution
		numbers  numberSet
		lastRole string
	)

	for _, e := range entries {
		result := Result{Entry: e}

		var who identity.Identity
		if e.Number == PlaceholderToken {
			who = self
			numbers.add(selfNumber)
		} else {
			id, ok := r.dir.FindByNumber(e.Number)
			if !ok {
				result.Outcome = Skipped
				result.Err = fmt.Errorf("%w: %q", identity.ErrNotFound, e.Number)
				res.Results = append(res.Results, result)
				continue
			}
			who = id
			numbers.add(r.dir.Normalize(e.Number))
		}
		result.Slug = who.Slug

		switch e.Role {
		case RoleFrom, RoleCC:
			msg.FromSlug = who.Slug
			result.Outcome = Assigned
			lastRole = e.Role
			res.Resolved = true
		case RoleTo:
			msg.ToSlugs = append(msg.ToSlugs, who.Slug)
			result.Outcome = Assigned
			lastRole = e.Role
			res.Resolved = true
		default:
			result.Outcome = Ignored
		}
		res.Results = append(res.Results, result)
	}

	// Some exports leave the owner out of the address list entirely.
	numbers.add(selfNumber)

	switch n := numbers.len(); {
	case n > 2:
		msg.GroupSlug = r.dir.GroupSlug(numbers.list())
	case n == 1:
		// Only the owner's number was seen: the counterpart side is missing,
		// so the owner fills whichever side the observed role left empty.
		switch lastRole {
		case RoleFrom, RoleCC:
			if len(msg.ToSlugs) == 0 {
				msg.ToSlugs = append(msg.ToSlugs, self.Slug)
			}
		case RoleTo:
			if msg.FromSlug == "" {
				msg.FromSlug = self.Slug
			}
		}
	}

	res.Numbers = numbers.list()
	return res
}

// numberSet is an insertion-ordered set of normalised numbers.
type numberSet struct {
	order []string
	seen  map[string]struct{}
}

func (s *numberSet) add(n string) {
	if n == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[n]; ok {
		return
	}
	s.seen[n] = struct{}{}
	s.order = append(s.order, n)
}

func (s *numberSet) len() int { return len(s.order) }

func (s *numberSet) list() []string {
	return append([]string(nil), s.order...)
}
