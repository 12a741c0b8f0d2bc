package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialme/messenger/internal/domain"
)

type messageWatcher struct {
	key domain.ConversationKey
	fn  func([]*domain.Message)
}

// MessageStore is the in-memory domain.MessageStore. Ids and timestamps are
// assigned at append time, the way the real store assigns them server-side.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[domain.ConversationKey][]*domain.Message
	watchers map[int]messageWatcher
	nextID   int

	// Now is the write-time clock; tests override it to control ordering.
	Now func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[domain.ConversationKey][]*domain.Message),
		watchers: make(map[int]messageWatcher),
		Now:      time.Now,
	}
}

func (s *MessageStore) AppendMessage(ctx context.Context, key domain.ConversationKey, msg *domain.Message) error {
	if _, _, ok := key.Participants(); !ok {
		return fmt.Errorf("malformed conversation key %q", key)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	cpy := *msg
	cpy.ID = domain.MessageID(uuid.NewString())
	cpy.CreatedAt = s.Now()
	s.messages[key] = append(s.messages[key], &cpy)

	// Reflect the assigned fields back, matching the SDK's write result.
	msg.ID = cpy.ID
	msg.CreatedAt = cpy.CreatedAt

	snapshot := s.snapshotLocked(key)
	var fns []func([]*domain.Message)
	for _, w := range s.watchers {
		if w.key == key {
			fns = append(fns, w.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
	return nil
}

func (s *MessageStore) LatestMessage(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[key]
	if len(msgs) == 0 {
		return nil, domain.ErrNotFound
	}

	latest := msgs[0]
	for _, m := range msgs[1:] {
		if m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	cpy := *latest
	return &cpy, nil
}

func (s *MessageStore) WatchMessages(ctx context.Context, key domain.ConversationKey, fn func([]*domain.Message), errFn func(error)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = messageWatcher{key: key, fn: fn}
	snapshot := s.snapshotLocked(key)
	s.mu.Unlock()

	fn(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}, nil
}

// WatcherCount reports live subscriptions; tests assert release on teardown.
func (s *MessageStore) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *MessageStore) snapshotLocked(key domain.ConversationKey) []*domain.Message {
	msgs := s.messages[key]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cpy := *m
		out = append(out, &cpy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
