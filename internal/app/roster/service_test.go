package roster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmem "github.com/socialme/messenger/internal/adapters/auth/memory"
	storemem "github.com/socialme/messenger/internal/adapters/storage/memory"
	"github.com/socialme/messenger/internal/app/roster"
	"github.com/socialme/messenger/internal/app/session"
	"github.com/socialme/messenger/internal/domain"
)

func seedProfiles(t *testing.T, profiles *storemem.ProfileStore, specs ...domain.UserProfile) {
	t.Helper()
	for i := range specs {
		require.NoError(t, profiles.CreateProfile(context.Background(), &specs[i]))
	}
}

func signedInService(t *testing.T, profiles *storemem.ProfileStore, messages *storemem.MessageStore, withPreviews bool) (*session.Service, *roster.Service) {
	t.Helper()

	sessions := session.NewService(authmem.NewAuthenticator(), profiles)
	require.NoError(t, sessions.SignUpWithPassword(context.Background(), "me@example.com", "secret"))

	svc := roster.NewService(sessions, profiles, messages, withPreviews)
	t.Cleanup(svc.Close)
	return sessions, svc
}

func names(entries []roster.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Profile.DisplayName)
	}
	return out
}

func TestFilterCaseInsensitiveAndExcludesSelf(t *testing.T) {
	profiles := storemem.NewProfileStore()
	messages := storemem.NewMessageStore()
	seedProfiles(t, profiles,
		domain.UserProfile{UID: "a", DisplayName: "Alice"},
		domain.UserProfile{UID: "b", DisplayName: "bob"},
		domain.UserProfile{UID: "c", DisplayName: "Charlie"},
	)

	_, svc := signedInService(t, profiles, messages, false)

	svc.SetSearch("a")
	assert.Equal(t, []string{"Alice", "Charlie"}, names(svc.Entries()))

	svc.SetSearch("")
	assert.Equal(t, []string{"Alice", "bob", "Charlie"}, names(svc.Entries()),
		"empty search shows everyone but self")
}

func TestSelfExcludedEvenWhenMatching(t *testing.T) {
	profiles := storemem.NewProfileStore()
	messages := storemem.NewMessageStore()

	sessions := session.NewService(authmem.NewAuthenticator(), profiles)
	require.NoError(t, sessions.SignUpWithPassword(context.Background(), "matcher@example.com", "secret"))

	seedProfiles(t, profiles, domain.UserProfile{UID: "other", DisplayName: "match too"})

	svc := roster.NewService(sessions, profiles, messages, false)
	defer svc.Close()

	svc.SetSearch("match")
	entries := svc.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.UserID("other"), entries[0].Profile.UID,
		"own profile stays out of the roster even when it matches the term")
}

func TestLiveUpdateOnNewProfile(t *testing.T) {
	profiles := storemem.NewProfileStore()
	messages := storemem.NewMessageStore()

	_, svc := signedInService(t, profiles, messages, false)
	assert.Empty(t, svc.Entries())

	seedProfiles(t, profiles, domain.UserProfile{UID: "n", DisplayName: "Newcomer"})
	assert.Equal(t, []string{"Newcomer"}, names(svc.Entries()),
		"a profile write re-derives the list through the live watch")
}

func TestPreviewShowsLatestMessage(t *testing.T) {
	profiles := storemem.NewProfileStore()
	messages := storemem.NewMessageStore()
	seedProfiles(t, profiles,
		domain.UserProfile{UID: "p1", DisplayName: "Peer One"},
		domain.UserProfile{UID: "p2", DisplayName: "Peer Two"},
	)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	messages.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	sessions, svc := signedInService(t, profiles, messages, true)
	self := sessions.Current().UID

	key, err := domain.ConversationKeyFor(self, "p1")
	require.NoError(t, err)
	require.NoError(t, messages.AppendMessage(context.Background(), key,
		&domain.Message{Text: "first", From: self}))
	require.NoError(t, messages.AppendMessage(context.Background(), key,
		&domain.Message{Text: "latest", From: "p1"}))

	svc.SetSearch("")
	entries := svc.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "latest", entries[0].Preview)
	assert.Equal(t, roster.EmptyPreview, entries[1].Preview,
		"a pair without history gets the explicit empty-state string")
}

// droppingProfiles exposes the watch's error callback so tests can simulate
// the live query dropping mid-session.
type droppingProfiles struct {
	*storemem.ProfileStore
	errFn func(error)
}

func (d *droppingProfiles) WatchProfiles(ctx context.Context, fn func([]*domain.UserProfile), errFn func(error)) (domain.Unsubscribe, error) {
	unsub, err := d.ProfileStore.WatchProfiles(ctx, fn, errFn)
	d.errFn = errFn
	return unsub, err
}

func TestWatchDropKeepsLastKnownList(t *testing.T) {
	profiles := &droppingProfiles{ProfileStore: storemem.NewProfileStore()}
	messages := storemem.NewMessageStore()
	seedProfiles(t, profiles.ProfileStore, domain.UserProfile{UID: "x", DisplayName: "Someone"})

	sessions := session.NewService(authmem.NewAuthenticator(), profiles)
	require.NoError(t, sessions.SignUpWithPassword(context.Background(), "me@example.com", "secret"))

	svc := roster.NewService(sessions, profiles, messages, false)
	defer svc.Close()

	require.False(t, svc.Degraded())
	require.Equal(t, []string{"Someone"}, names(svc.Entries()))

	require.NotNil(t, profiles.errFn)
	profiles.errFn(errors.New("stream reset"))

	assert.True(t, svc.Degraded(), "a dropped watch surfaces as degraded")
	assert.Equal(t, []string{"Someone"}, names(svc.Entries()),
		"the list falls back to its last-known state")
}

// brokenProfiles refuses to establish a watch at all.
type brokenProfiles struct {
	*storemem.ProfileStore
}

func (b *brokenProfiles) WatchProfiles(ctx context.Context, fn func([]*domain.UserProfile), errFn func(error)) (domain.Unsubscribe, error) {
	return nil, errors.New("store unavailable")
}

func TestWatchEstablishFailureIsDegraded(t *testing.T) {
	profiles := &brokenProfiles{ProfileStore: storemem.NewProfileStore()}
	messages := storemem.NewMessageStore()

	sessions := session.NewService(authmem.NewAuthenticator(), profiles)
	require.NoError(t, sessions.SignUpWithPassword(context.Background(), "me@example.com", "secret"))

	svc := roster.NewService(sessions, profiles, messages, false)
	defer svc.Close()

	assert.True(t, svc.Degraded())
	assert.Empty(t, svc.Entries())
}

func TestSignOutDetachesWatchAndClears(t *testing.T) {
	profiles := storemem.NewProfileStore()
	messages := storemem.NewMessageStore()
	seedProfiles(t, profiles, domain.UserProfile{UID: "x", DisplayName: "Someone"})

	sessions, svc := signedInService(t, profiles, messages, false)
	require.Equal(t, 1, profiles.WatcherCount())
	require.NotEmpty(t, svc.Entries())

	require.NoError(t, sessions.SignOut(context.Background()))
	assert.Equal(t, 0, profiles.WatcherCount(), "sign-out releases the live watch")
	assert.Empty(t, svc.Entries(), "no roster leaks to the unauthenticated view")
}
