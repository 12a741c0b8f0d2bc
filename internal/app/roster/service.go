package roster

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/socialme/messenger/internal/app/session"
	"github.com/socialme/messenger/internal/domain"
	"github.com/socialme/messenger/internal/observability"
)

// EmptyPreview is shown for a pair with no message history yet.
const EmptyPreview = "No messages yet"

// Entry is one roster row: another user's profile plus the preview of the
// pair's most recent message.
type Entry struct {
	Profile domain.UserProfile
	Preview string
}

// Service keeps a live, filtered list of the other registered users. It
// re-derives the list on every profile snapshot, on every search-term change
// and on every identity transition.
type Service struct {
	sessions     *session.Service
	profiles     domain.ProfileStore
	messages     domain.MessageStore
	withPreviews bool

	mu       sync.Mutex
	self     domain.UserID
	search   string
	all      []*domain.UserProfile
	entries  []Entry
	degraded bool
	gen      int
	unsub    domain.Unsubscribe
	onUpdate func([]Entry)

	identityUnsub domain.Unsubscribe
}

func NewService(sessions *session.Service, profiles domain.ProfileStore, messages domain.MessageStore, withPreviews bool) *Service {
	s := &Service{
		sessions:     sessions,
		profiles:     profiles,
		messages:     messages,
		withPreviews: withPreviews,
	}
	s.identityUnsub = sessions.Subscribe(s.onIdentity)
	return s
}

// OnUpdate registers the view callback invoked with the derived list after
// every re-derivation.
func (s *Service) OnUpdate(fn func([]Entry)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Entries returns the current derived list.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Degraded reports whether the live watch has dropped; the list then holds
// its last-known state until the next identity transition resubscribes.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// SetSearch re-derives the list against the new term. No resubscription is
// needed; filtering happens over the cached snapshot.
func (s *Service) SetSearch(term string) {
	s.mu.Lock()
	s.search = term
	all, self, search := s.all, s.self, s.search
	s.mu.Unlock()

	s.store(s.derive(all, self, search))
}

// Close releases the profile watch and the identity subscription.
func (s *Service) Close() {
	if s.identityUnsub != nil {
		s.identityUnsub()
	}
	s.detach()
}

func (s *Service) onIdentity(id *domain.Identity) {
	s.detach()

	if id == nil {
		s.mu.Lock()
		s.self = ""
		s.all = nil
		s.entries = nil
		s.degraded = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.self = id.UID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	unsub, err := s.profiles.WatchProfiles(context.Background(),
		func(ps []*domain.UserProfile) { s.handleSnapshot(gen, ps) },
		func(err error) { s.handleWatchError(gen, err) },
	)
	if err != nil {
		observability.Logger().Error("roster watch failed to establish", "error", err)
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
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

func (s *Service) handleSnapshot(gen int, ps []*domain.UserProfile) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.all = ps
	s.degraded = false
	self, search := s.self, s.search
	s.mu.Unlock()

	s.store(s.derive(ps, self, search))
}

func (s *Service) handleWatchError(gen int, err error) {
	s.mu.Lock()
	stale := gen != s.gen
	if !stale {
		s.degraded = true
	}
	s.mu.Unlock()

	if !stale {
		observability.Logger().Error("roster watch dropped", "error", err)
	}
}

// derive filters and sorts a raw profile snapshot: self excluded, display
// name matched case-insensitively against the search term.
func (s *Service) derive(ps []*domain.UserProfile, self domain.UserID, search string) []Entry {
	needle := strings.ToLower(search)

	entries := make([]Entry, 0, len(ps))
	for _, p := range ps {
		if p.UID == self {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.DisplayName), needle) {
			continue
		}
		entries = append(entries, Entry{
			Profile: *p,
			Preview: s.preview(self, p.UID),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a := strings.ToLower(entries[i].Profile.DisplayName)
		b := strings.ToLower(entries[j].Profile.DisplayName)
		if a != b {
			return a < b
		}
		return entries[i].Profile.UID < entries[j].Profile.UID
	})
	return entries
}

func (s *Service) preview(self, peer domain.UserID) string {
	if !s.withPreviews || self == "" {
		return ""
	}

	key, err := domain.ConversationKeyFor(self, peer)
	if err != nil {
		return EmptyPreview
	}

	msg, err := s.messages.LatestMessage(context.Background(), key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			observability.Logger().Warn("roster preview fetch failed", "peer", peer, "error", err)
		}
		return EmptyPreview
	}

	if msg.Text != "" {
		return msg.Text
	}
	if msg.Attachment != nil {
		return "📎 " + msg.Attachment.Filename
	}
	return EmptyPreview
}

func (s *Service) store(entries []Entry) {
	s.mu.Lock()
	s.entries = entries
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(entries)
	}
}
