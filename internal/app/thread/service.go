package thread

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/socialme/messenger/internal/app/session"
	"github.com/socialme/messenger/internal/domain"
	"github.com/socialme/messenger/internal/observability"
)

// Service maintains the live ordered view of one conversation and appends to
// it. Selecting a peer detaches the previous watch before attaching the new
// one, so a stale thread never bleeds into the new view.
//
// The pending composer text lives here too: it is cleared only when a send
// succeeds, so a failed send leaves the input intact for a manual retry.
type Service struct {
	sessions *session.Service
	messages domain.MessageStore
	blobs    domain.BlobStore

	mu       sync.Mutex
	self     domain.UserID
	peer     domain.UserID
	key      domain.ConversationKey
	msgs     []*domain.Message
	composer string
	degraded bool
	gen      int
	unsub    domain.Unsubscribe
	onUpdate func([]*domain.Message)

	identityUnsub domain.Unsubscribe
}

func NewService(sessions *session.Service, messages domain.MessageStore, blobs domain.BlobStore) *Service {
	s := &Service{
		sessions: sessions,
		messages: messages,
		blobs:    blobs,
	}
	s.identityUnsub = sessions.Subscribe(s.onIdentity)
	return s
}

// OnUpdate registers the view callback invoked with the ordered message
// slice after every snapshot.
func (s *Service) OnUpdate(fn func([]*domain.Message)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Select switches the conversation to the thread shared with peer. The old
// subscription is released synchronously before the new one attaches, and
// the visible messages are cleared in between.
func (s *Service) Select(ctx context.Context, peer domain.UserID) error {
	s.mu.Lock()
	self := s.self
	s.mu.Unlock()

	if self == "" {
		return domain.ErrNotSignedIn
	}

	key, err := domain.ConversationKeyFor(self, peer)
	if err != nil {
		return err
	}

	s.detach()

	s.mu.Lock()
	s.peer = peer
	s.key = key
	s.msgs = nil
	s.degraded = false
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	unsub, err := s.messages.WatchMessages(context.Background(), key,
		func(msgs []*domain.Message) { s.handleSnapshot(gen, msgs) },
		func(err error) { s.handleWatchError(gen, err) },
	)
	if err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		return fmt.Errorf("subscribing to conversation: %w", err)
	}

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	return nil
}

// Peer returns the selected peer, or "".
func (s *Service) Peer() domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Messages returns the current ordered view of the selected conversation.
func (s *Service) Messages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Degraded reports whether the live watch has dropped; the view then holds
// its last-known messages until the next Select.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// SendText appends a text message to the selected conversation. Empty and
// whitespace-only input is rejected without touching the store.
func (s *Service) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyMessage
	}

	s.mu.Lock()
	self, key, peer := s.self, s.key, s.peer
	s.mu.Unlock()

	if peer == "" {
		return domain.ErrNoPeerSelected
	}

	msg := &domain.Message{Text: text, From: self}
	if err := s.messages.AppendMessage(ctx, key, msg); err != nil {
		observability.LoggerFromContext(ctx).Error("text send failed", "peer", peer, "error", err)
		return err
	}
	return nil
}

// SendAttachment uploads the file bytes to the blob store, then appends a
// message referencing the durable URL. The two steps are sequential and not
// atomic: if the append fails after the upload succeeded, the blob stays
// behind unreferenced. That orphan is logged and accepted, not reconciled.
func (s *Service) SendAttachment(ctx context.Context, filename, contentType string, r io.Reader) error {
	s.mu.Lock()
	self, key, peer := s.self, s.key, s.peer
	s.mu.Unlock()

	if peer == "" {
		return domain.ErrNoPeerSelected
	}
	if filename == "" || r == nil {
		return domain.ErrNoFile
	}

	path := fmt.Sprintf("conversations/%s/%s", key, filename)
	url, err := s.blobs.Upload(ctx, path, contentType, r)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("attachment upload failed", "path", path, "error", err)
		return err
	}

	msg := &domain.Message{
		From: self,
		Attachment: &domain.Attachment{
			URL:      url,
			MimeType: contentType,
			Filename: filename,
		},
	}
	if err := s.messages.AppendMessage(ctx, key, msg); err != nil {
		observability.LoggerFromContext(ctx).Error("attachment message write failed, blob orphaned",
			"path", path, "error", err)
		return err
	}
	return nil
}

// ─────────────────────────────────────────
// Composer
// ─────────────────────────────────────────

// Composer returns the pending input text.
func (s *Service) Composer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer
}

// SetComposer replaces the pending input text.
func (s *Service) SetComposer(text string) {
	s.mu.Lock()
	s.composer = text
	s.mu.Unlock()
}

// AppendToComposer appends a symbol (the emoji affordance) to the pending
// input text.
func (s *Service) AppendToComposer(symbol string) {
	s.mu.Lock()
	s.composer += symbol
	s.mu.Unlock()
}

// SendComposer sends the pending input as a text message and clears it only
// when the send was accepted. On failure the input is preserved for retry.
func (s *Service) SendComposer(ctx context.Context) error {
	s.mu.Lock()
	text := s.composer
	s.mu.Unlock()

	if err := s.SendText(ctx, text); err != nil {
		return err
	}

	s.mu.Lock()
	// Only clear what was sent; keep anything typed while the send was in
	// flight.
	s.composer = strings.TrimPrefix(s.composer, text)
	s.mu.Unlock()
	return nil
}

// Close releases the message watch and the identity subscription.
func (s *Service) Close() {
	if s.identityUnsub != nil {
		s.identityUnsub()
	}
	s.detach()
}

// ─────────────────────────────────────────
// Internals
// ─────────────────────────────────────────

func (s *Service) onIdentity(id *domain.Identity) {
	s.detach()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.peer = ""
	s.key = ""
	s.msgs = nil
	s.composer = ""
	s.degraded = false
	if id == nil {
		s.self = ""
	} else {
		s.self = id.UID
	}
}

func (s *Service) detach() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// handleSnapshot replaces the whole local view with the delivered result set
// and re-sorts it; callbacks are full snapshots, not patches, and may arrive
// in any internal order.
func (s *Service) handleSnapshot(gen int, msgs []*domain.Message) {
	ordered := make([]*domain.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.msgs = ordered
	s.degraded = false
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(ordered)
	}
}

func (s *Service) handleWatchError(gen int, err error) {
	s.mu.Lock()
	stale := gen != s.gen
	if !stale {
		s.degraded = true
	}
	s.mu.Unlock()

	if !stale {
		observability.Logger().Error("conversation watch dropped", "error", err)
	}
}
