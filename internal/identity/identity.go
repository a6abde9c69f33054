package identity

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Identity is a known person correlated to a phone number.
type Identity struct {
	Slug        string `json:"slug"`
	Mobile      string `json:"mobile"`
	DisplayName string `json:"display_name,omitempty"`
}

// Entry is a directory record: an identity plus any additional numbers it
// is reachable on.
type Entry struct {
	Identity
	OtherMobiles []string
}

// Group names a fixed set of people by slug.
type Group struct {
	Slug    string
	Members []string
}

// ErrNotFound is returned when a number matches no known identity.
var ErrNotFound = errors.New("no identity for number")

// groupNamespace seeds generated group slugs so they stay stable across runs.
var groupNamespace = uuid.MustParse("5c1f6a3e-9d0b-4f4e-8a57-3b1d2c6e9f10")

// Directory is a read-only phone number -> identity lookup with a
// distinguished "self" identity. It is safe for concurrent readers.
type Directory struct {
	self    Identity
	byPhone map[string]Identity
	bySlug  map[string]Identity
	groups  map[string]string // sorted member slugs joined by "," -> group slug
	region  string
}

// Option configures a Directory.
type Option func(*Directory)

// WithDefaultRegion sets the region used to read numbers written without a
// country code, so "(289) 555-1212" matches "+12895551212" under "CA".
func WithDefaultRegion(region string) Option {
	return func(d *Directory) {
		d.region = strings.ToUpper(strings.TrimSpace(region))
	}
}

// New builds a directory. Self is always resolvable by its own mobile.
func New(self Entry, people []Entry, groups []Group, opts ...Option) (*Directory, error) {
	d := &Directory{
		self:    self.Identity,
		byPhone: make(map[string]Identity, len(people)+1),
		bySlug:  make(map[string]Identity, len(people)+1),
		groups:  make(map[string]string, len(groups)),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.region != "" && !ValidRegion(d.region) {
		return nil, fmt.Errorf("unknown default region %q", d.region)
	}
	if strings.TrimSpace(self.Slug) == "" {
		return nil, fmt.Errorf("self slug is required")
	}
	if d.Normalize(self.Mobile) == "" {
		return nil, fmt.Errorf("self mobile is required")
	}

	for _, e := range append([]Entry{self}, people...) {
		slug := strings.TrimSpace(e.Slug)
		if slug == "" {
			return nil, fmt.Errorf("identity with mobile %q has no slug", e.Mobile)
		}
		if _, dup := d.bySlug[slug]; dup {
			return nil, fmt.Errorf("duplicate identity slug %q", slug)
		}
		d.bySlug[slug] = e.Identity

		for _, number := range append([]string{e.Mobile}, e.OtherMobiles...) {
			n := d.Normalize(number)
			if n == "" {
				continue
			}
			if prev, taken := d.byPhone[n]; taken && prev.Slug != slug {
				return nil, fmt.Errorf("number %s is claimed by both %q and %q", n, prev.Slug, slug)
			}
			d.byPhone[n] = e.Identity
		}
	}

	for _, g := range groups {
		if strings.TrimSpace(g.Slug) == "" {
			return nil, fmt.Errorf("group has no slug")
		}
		for _, m := range g.Members {
			if _, ok := d.bySlug[m]; !ok {
				return nil, fmt.Errorf("group %q references unknown member %q", g.Slug, m)
			}
		}
		d.groups[memberKey(g.Members)] = g.Slug
	}

	return d, nil
}

// Self returns the identity of the export owner.
func (d *Directory) Self() Identity {
	return d.self
}

// Normalize canonicalises number using the directory's default region.
func (d *Directory) Normalize(number string) string {
	return NormalizeNumber(number, d.region)
}

// FindByNumber looks up the identity owning number.
func (d *Directory) FindByNumber(number string) (Identity, bool) {
	n := d.Normalize(number)
	if n == "" {
		return Identity{}, false
	}
	id, ok := d.byPhone[n]
	return id, ok
}

// FindBySlug looks up an identity by its slug.
func (d *Directory) FindBySlug(slug string) (Identity, bool) {
	id, ok := d.bySlug[slug]
	return id, ok
}

// People returns every identity, self first, then by slug.
func (d *Directory) People() []Identity {
	out := make([]Identity, 0, len(d.bySlug))
	for slug, id := range d.bySlug {
		if slug == d.self.Slug {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return append([]Identity{d.self}, out...)
}

// GroupSlug maps a set of phone numbers to a group slug. The result depends
// only on the set: order and duplicates are irrelevant. A configured group
// wins when every number is known and the member sets match; otherwise a
// slug is derived from the numbers themselves.
func (d *Directory) GroupSlug(numbers []string) string {
	seen := make(map[string]struct{}, len(numbers))
	normalized := make([]string, 0, len(numbers))
	for _, number := range numbers {
		n := d.Normalize(number)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	sort.Strings(normalized)

	slugs := make([]string, 0, len(normalized))
	allKnown := true
	for _, n := range normalized {
		id, ok := d.byPhone[n]
		if !ok {
			allKnown = false
			break
		}
		slugs = append(slugs, id.Slug)
	}
	if allKnown {
		if slug, ok := d.groups[memberKey(slugs)]; ok {
			return slug
		}
	}

	sum := uuid.NewSHA1(groupNamespace, []byte(strings.Join(normalized, "~")))
	return "group-" + strings.ReplaceAll(sum.String(), "-", "")[:12]
}

func memberKey(slugs []string) string {
	uniq := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if _, ok := uniq[s]; ok {
			continue
		}
		uniq[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
