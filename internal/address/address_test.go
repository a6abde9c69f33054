package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thephm/sms-backup-md/internal/identity"
	"github.com/thephm/sms-backup-md/internal/message"
)

const (
	meNumber    = "+15555550100"
	aliceNumber = "+12895551212"
	bobNumber   = "+14165551313"
	carolNumber = "+12895551414"
)

func testResolver(t *testing.T) (*Resolver, *identity.Directory) {
	t.Helper()
	dir, err := identity.New(
		identity.Entry{Identity: identity.Identity{Slug: "me", Mobile: meNumber}},
		[]identity.Entry{
			{Identity: identity.Identity{Slug: "alice", Mobile: aliceNumber}},
			{Identity: identity.Identity{Slug: "bob", Mobile: bobNumber}},
			{Identity: identity.Identity{Slug: "carol", Mobile: carolNumber}},
		},
		[]identity.Group{{Slug: "friends", Members: []string{"alice", "bob", "me"}}},
	)
	require.NoError(t, err)
	return NewResolver(dir), dir
}

func TestResolveOneToOne(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{
		{Number: aliceNumber, Role: RoleFrom},
		{Number: meNumber, Role: RoleTo},
	}, msg)

	assert.True(t, res.Resolved)
	assert.Equal(t, "alice", msg.FromSlug)
	assert.Equal(t, []string{"me"}, msg.ToSlugs)
	assert.Empty(t, msg.GroupSlug)
	assert.Equal(t, []string{aliceNumber, meNumber}, res.Numbers)
}

func TestResolveCCIsSender(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{
		{Number: bobNumber, Role: RoleCC},
		{Number: meNumber, Role: RoleTo},
	}, msg)

	assert.True(t, res.Resolved)
	assert.Equal(t, "bob", msg.FromSlug)
	assert.Equal(t, Assigned, res.Results[0].Outcome)
}

func TestResolveGroup(t *testing.T) {
	r, dir := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{
		{Number: carolNumber, Role: RoleFrom},
		{Number: aliceNumber, Role: RoleTo},
		{Number: meNumber, Role: RoleTo},
	}, msg)

	assert.True(t, res.Resolved)
	assert.Equal(t, "carol", msg.FromSlug)
	assert.Equal(t, []string{"alice", "me"}, msg.ToSlugs)
	assert.Equal(t, dir.GroupSlug([]string{meNumber, aliceNumber, carolNumber}), msg.GroupSlug)
	assert.NotEmpty(t, msg.GroupSlug)
}

func TestResolveConfiguredGroupAddsMissingSelf(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	// The owner is absent from the list but still counts as a participant.
	res := r.Resolve([]Entry{
		{Number: aliceNumber, Role: RoleFrom},
		{Number: bobNumber, Role: RoleTo},
	}, msg)

	assert.True(t, res.Resolved)
	assert.Equal(t, "friends", msg.GroupSlug)
	assert.Equal(t, []string{aliceNumber, bobNumber, meNumber}, res.Numbers)
}

func TestResolvePlaceholderIsSelf(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{
		{Number: PlaceholderToken, Role: RoleFrom},
		{Number: aliceNumber, Role: RoleTo},
	}, msg)

	assert.True(t, res.Resolved)
	assert.Equal(t, "me", msg.FromSlug)
	assert.Equal(t, []string{"alice"}, msg.ToSlugs)
	assert.Contains(t, res.Numbers, meNumber)
	assert.NotContains(t, res.Numbers, PlaceholderToken)
	assert.Empty(t, msg.GroupSlug)
}

func TestResolveSkipsUnknownNumbers(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{
		{Number: "+19999999999", Role: RoleFrom},
		{Number: aliceNumber, Role: RoleTo},
	}, msg)

	require.Len(t, res.Results, 2)
	assert.Equal(t, Skipped, res.Results[0].Outcome)
	assert.ErrorIs(t, res.Results[0].Err, identity.ErrNotFound)
	assert.Equal(t, Assigned, res.Results[1].Outcome)

	assert.True(t, res.Resolved)
	assert.Empty(t, msg.FromSlug)
	assert.Equal(t, []string{"alice"}, msg.ToSlugs)
	assert.Equal(t, []string{aliceNumber, meNumber}, res.Numbers)
}

func TestResolveIgnoresBCCForDirection(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{{Number: aliceNumber, Role: RoleBCC}}, msg)

	require.Len(t, res.Results, 1)
	assert.Equal(t, Ignored, res.Results[0].Outcome)
	assert.False(t, res.Resolved)
	assert.Empty(t, msg.FromSlug)
	assert.Empty(t, msg.ToSlugs)
}

func TestResolveOnlySelfFillsMissingSide(t *testing.T) {
	r, _ := testResolver(t)

	sent := &message.Message{}
	res := r.Resolve([]Entry{{Number: meNumber, Role: RoleFrom}}, sent)
	assert.True(t, res.Resolved)
	assert.Equal(t, "me", sent.FromSlug)
	assert.Equal(t, []string{"me"}, sent.ToSlugs)

	received := &message.Message{}
	res = r.Resolve([]Entry{{Number: PlaceholderToken, Role: RoleTo}}, received)
	assert.True(t, res.Resolved)
	assert.Equal(t, "me", received.FromSlug)
	assert.Equal(t, []string{"me"}, received.ToSlugs)
}

func TestResolveNothingKnown(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	res := r.Resolve([]Entry{{Number: "+19999999999", Role: RoleFrom}}, msg)
	assert.False(t, res.Resolved)
	assert.Empty(t, msg.FromSlug)
	assert.Empty(t, msg.ToSlugs)
	assert.Equal(t, []string{meNumber}, res.Numbers)
}

func TestResolveDuplicateRecipientsKept(t *testing.T) {
	r, _ := testResolver(t)
	msg := &message.Message{}

	r.Resolve([]Entry{
		{Number: aliceNumber, Role: RoleFrom},
		{Number: meNumber, Role: RoleTo},
		{Number: meNumber, Role: RoleTo},
	}, msg)

	assert.Equal(t, []string{"me", "me"}, msg.ToSlugs)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "assigned", Assigned.String())
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
