package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/socialme/messenger/internal/domain"
)

// ProfileStore is the in-memory domain.ProfileStore. It backs local mode and
// doubles as the test fake; watch callbacks fire synchronously on every write.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]*domain.UserProfile
	watchers map[int]func([]*domain.UserProfile)
	nextID   int
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[domain.UserID]*domain.UserProfile),
		watchers: make(map[int]func([]*domain.UserProfile)),
	}
}

func (s *ProfileStore) GetProfile(ctx context.Context, uid domain.UserID) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[uid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cpy := *p
	return &cpy, nil
}

func (s *ProfileStore) CreateProfile(ctx context.Context, p *domain.UserProfile) error {
	s.mu.Lock()
	if _, exists := s.profiles[p.UID]; exists {
		s.mu.Unlock()
		return domain.ErrAlreadyExists
	}
	cpy := *p
	s.profiles[p.UID] = &cpy

	snapshot := s.snapshotLocked()
	watchers := s.watchersLocked()
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
	return nil
}

func (s *ProfileStore) WatchProfiles(ctx context.Context, fn func([]*domain.UserProfile), errFn func(error)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	// Initial snapshot, like a live query's first callback.
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
func (s *ProfileStore) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *ProfileStore) snapshotLocked() []*domain.UserProfile {
	out := make([]*domain.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cpy := *p
		out = append(out, &cpy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func (s *ProfileStore) watchersLocked() []func([]*domain.UserProfile) {
	out := make([]func([]*domain.UserProfile), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}
