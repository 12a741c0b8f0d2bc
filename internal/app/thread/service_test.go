package thread_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmem "github.com/socialme/messenger/internal/adapters/auth/memory"
	blobmem "github.com/socialme/messenger/internal/adapters/blob/memory"
	storemem "github.com/socialme/messenger/internal/adapters/storage/memory"
	"github.com/socialme/messenger/internal/app/session"
	"github.com/socialme/messenger/internal/app/thread"
	"github.com/socialme/messenger/internal/domain"
)

func newFixture(t *testing.T) (*session.Service, *storemem.MessageStore, *blobmem.BlobStore, *thread.Service) {
	t.Helper()

	sessions := session.NewService(authmem.NewAuthenticator(), storemem.NewProfileStore())
	require.NoError(t, sessions.SignUpWithPassword(context.Background(), "me@example.com", "secret"))

	messages := storemem.NewMessageStore()
	blobs := blobmem.NewBlobStore()
	svc := thread.NewService(sessions, messages, blobs)
	t.Cleanup(svc.Close)

	return sessions, messages, blobs, svc
}

func TestSendTextAppendsWithOwnUID(t *testing.T) {
	ctx := context.Background()
	sessions, _, _, svc := newFixture(t)
	self := sessions.Current().UID

	require.NoError(t, svc.Select(ctx, "peer-uid"))
	require.NoError(t, svc.SendText(ctx, "hi"))

	msgs := svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, self, msgs[0].From, "alignment comparison relies on the uid being the From value")
	assert.Nil(t, msgs[0].Attachment)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestSendTextRejectsWhitespaceOnly(t *testing.T) {
	ctx := context.Background()
	sessions, messages, _, svc := newFixture(t)
	require.NoError(t, svc.Select(ctx, "peer-uid"))

	for _, text := range []string{"", "   ", "\t\n"} {
		err := svc.SendText(ctx, text)
		assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	}
	assert.Empty(t, svc.Messages())

	key, err := domain.ConversationKeyFor(sessions.Current().UID, "peer-uid")
	require.NoError(t, err)
	_, err = messages.LatestMessage(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no document is written for a rejected send")
}

func TestSendTextRequiresSelectedPeer(t *testing.T) {
	_, _, _, svc := newFixture(t)
	err := svc.SendText(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrNoPeerSelected)
}

func TestSwitchPeerDetachesBeforeAttaching(t *testing.T) {
	ctx := context.Background()
	sessions, messages, _, svc := newFixture(t)
	self := sessions.Current().UID

	require.NoError(t, svc.Select(ctx, "u1"))
	require.NoError(t, svc.SendText(ctx, "for u1 only"))
	require.Len(t, svc.Messages(), 1)
	require.Equal(t, 1, messages.WatcherCount())

	require.NoError(t, svc.Select(ctx, "u2"))
	assert.Equal(t, 1, messages.WatcherCount(), "the u1 watch is released before u2 attaches")
	assert.Empty(t, svc.Messages(), "u1's messages never appear in u2's thread")

	// A late write to the old conversation stays invisible.
	oldKey, err := domain.ConversationKeyFor(self, "u1")
	require.NoError(t, err)
	require.NoError(t, messages.AppendMessage(ctx, oldKey, &domain.Message{Text: "stale", From: "u1"}))
	assert.Empty(t, svc.Messages())
}

func TestSignOutDetachesThread(t *testing.T) {
	ctx := context.Background()
	sessions, messages, _, svc := newFixture(t)

	require.NoError(t, svc.Select(ctx, "u1"))
	require.Equal(t, 1, messages.WatcherCount())

	require.NoError(t, sessions.SignOut(ctx))
	assert.Equal(t, 0, messages.WatcherCount())
	assert.Empty(t, svc.Messages())
	assert.Equal(t, domain.UserID(""), svc.Peer())
}

func TestSendAttachment(t *testing.T) {
	ctx := context.Background()
	sessions, _, blobs, svc := newFixture(t)
	self := sessions.Current().UID

	require.NoError(t, svc.Select(ctx, "peer-uid"))
	require.NoError(t, svc.SendAttachment(ctx, "photo.png", "image/png", bytes.NewReader([]byte("png-bytes"))))

	msgs := svc.Messages()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Attachment)
	assert.NotEmpty(t, msgs[0].Attachment.URL)
	assert.Equal(t, "image/png", msgs[0].Attachment.MimeType)
	assert.Equal(t, "photo.png", msgs[0].Attachment.Filename)
	assert.True(t, msgs[0].Attachment.IsImage(), "image attachments render inline")
	assert.Equal(t, self, msgs[0].From)

	key, err := domain.ConversationKeyFor(self, "peer-uid")
	require.NoError(t, err)
	data, ok := blobs.Get("conversations/" + string(key) + "/photo.png")
	require.True(t, ok, "the raw bytes live at the conversation-scoped path")
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestSendAttachmentRejections(t *testing.T) {
	ctx := context.Background()
	_, _, _, svc := newFixture(t)

	err := svc.SendAttachment(ctx, "f.png", "image/png", bytes.NewReader(nil))
	assert.ErrorIs(t, err, domain.ErrNoPeerSelected)

	require.NoError(t, svc.Select(ctx, "peer-uid"))
	err = svc.SendAttachment(ctx, "", "image/png", bytes.NewReader(nil))
	assert.ErrorIs(t, err, domain.ErrNoFile)
	err = svc.SendAttachment(ctx, "f.png", "image/png", nil)
	assert.ErrorIs(t, err, domain.ErrNoFile)
}

// failingAppend accepts watches but refuses writes, to exercise the
// upload-succeeded-write-failed path.
type failingAppend struct {
	*storemem.MessageStore
}

func (f *failingAppend) AppendMessage(ctx context.Context, key domain.ConversationKey, msg *domain.Message) error {
	return errors.New("write refused")
}

func TestAttachmentWriteFailureLeavesOrphanedBlob(t *testing.T) {
	ctx := context.Background()

	sessions := session.NewService(authmem.NewAuthenticator(), storemem.NewProfileStore())
	require.NoError(t, sessions.SignUpWithPassword(ctx, "me@example.com", "secret"))

	messages := &failingAppend{MessageStore: storemem.NewMessageStore()}
	blobs := blobmem.NewBlobStore()
	svc := thread.NewService(sessions, messages, blobs)
	defer svc.Close()

	require.NoError(t, svc.Select(ctx, "peer-uid"))
	err := svc.SendAttachment(ctx, "doc.pdf", "application/pdf", bytes.NewReader([]byte("pdf")))
	require.Error(t, err)

	assert.Equal(t, 1, blobs.Len(), "the uploaded blob stays behind, unreferenced")
	assert.Empty(t, svc.Messages())
}

// unsortedStore delivers snapshots in scrambled order to prove the service
// re-sorts on every callback.
type unsortedStore struct {
	*storemem.MessageStore
	scrambled []*domain.Message
}

func (u *unsortedStore) WatchMessages(ctx context.Context, key domain.ConversationKey, fn func([]*domain.Message), errFn func(error)) (domain.Unsubscribe, error) {
	fn(u.scrambled)
	return func() {}, nil
}

func TestSnapshotsAreResorted(t *testing.T) {
	ctx := context.Background()

	sessions := session.NewService(authmem.NewAuthenticator(), storemem.NewProfileStore())
	require.NoError(t, sessions.SignUpWithPassword(ctx, "me@example.com", "secret"))

	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)
	store := &unsortedStore{
		MessageStore: storemem.NewMessageStore(),
		scrambled: []*domain.Message{
			{ID: "m3", Text: "third", From: "p", CreatedAt: t3},
			{ID: "m1", Text: "first", From: "p", CreatedAt: t1},
			{ID: "m2", Text: "second", From: "p", CreatedAt: t2},
		},
	}

	svc := thread.NewService(sessions, store, blobmem.NewBlobStore())
	defer svc.Close()

	require.NoError(t, svc.Select(ctx, "p"))

	msgs := svc.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []domain.MessageID{"m1", "m2", "m3"},
		[]domain.MessageID{msgs[0].ID, msgs[1].ID, msgs[2].ID},
		"render order follows createdAt regardless of delivery order")
}

// droppingMessages exposes the watch's error callback so tests can simulate
// the live query dropping mid-conversation.
type droppingMessages struct {
	*storemem.MessageStore
	errFn func(error)
}

func (d *droppingMessages) WatchMessages(ctx context.Context, key domain.ConversationKey, fn func([]*domain.Message), errFn func(error)) (domain.Unsubscribe, error) {
	unsub, err := d.MessageStore.WatchMessages(ctx, key, fn, errFn)
	d.errFn = errFn
	return unsub, err
}

func TestWatchDropKeepsLastKnownMessages(t *testing.T) {
	ctx := context.Background()

	sessions := session.NewService(authmem.NewAuthenticator(), storemem.NewProfileStore())
	require.NoError(t, sessions.SignUpWithPassword(ctx, "me@example.com", "secret"))

	messages := &droppingMessages{MessageStore: storemem.NewMessageStore()}
	svc := thread.NewService(sessions, messages, blobmem.NewBlobStore())
	defer svc.Close()

	require.NoError(t, svc.Select(ctx, "peer-uid"))
	require.NoError(t, svc.SendText(ctx, "before the drop"))
	require.False(t, svc.Degraded())
	require.Len(t, svc.Messages(), 1)

	require.NotNil(t, messages.errFn)
	messages.errFn(errors.New("stream reset"))

	assert.True(t, svc.Degraded(), "a dropped watch surfaces as degraded")
	msgs := svc.Messages()
	require.Len(t, msgs, 1, "the view falls back to its last-known messages")
	assert.Equal(t, "before the drop", msgs[0].Text)
}

// brokenMessages refuses to establish a watch at all.
type brokenMessages struct {
	*storemem.MessageStore
}

func (b *brokenMessages) WatchMessages(ctx context.Context, key domain.ConversationKey, fn func([]*domain.Message), errFn func(error)) (domain.Unsubscribe, error) {
	return nil, errors.New("store unavailable")
}

func TestSelectWatchEstablishFailureIsDegraded(t *testing.T) {
	ctx := context.Background()

	sessions := session.NewService(authmem.NewAuthenticator(), storemem.NewProfileStore())
	require.NoError(t, sessions.SignUpWithPassword(ctx, "me@example.com", "secret"))

	svc := thread.NewService(sessions, &brokenMessages{MessageStore: storemem.NewMessageStore()}, blobmem.NewBlobStore())
	defer svc.Close()

	err := svc.Select(ctx, "peer-uid")
	require.Error(t, err)
	assert.True(t, svc.Degraded())
	assert.Empty(t, svc.Messages())
}

func TestComposerPreservedOnFailureClearedOnSuccess(t *testing.T) {
	ctx := context.Background()
	_, _, _, svc := newFixture(t)

	svc.SetComposer("hello")
	svc.AppendToComposer("🙂")
	assert.Equal(t, "hello🙂", svc.Composer())

	// No peer selected: the send fails and the input survives for retry.
	err := svc.SendComposer(ctx)
	assert.ErrorIs(t, err, domain.ErrNoPeerSelected)
	assert.Equal(t, "hello🙂", svc.Composer())

	require.NoError(t, svc.Select(ctx, "peer-uid"))
	require.NoError(t, svc.SendComposer(ctx))
	assert.Empty(t, svc.Composer(), "a successful enqueue clears the composer")

	msgs := svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello🙂", msgs[0].Text)
}

func TestWhitespaceComposerLeftUnchanged(t *testing.T) {
	ctx := context.Background()
	_, _, _, svc := newFixture(t)
	require.NoError(t, svc.Select(ctx, "peer-uid"))

	svc.SetComposer("   ")
	err := svc.SendComposer(ctx)
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Equal(t, "   ", svc.Composer())
}
