package session

import (
	"context"
	"errors"
	"sync"

	"github.com/socialme/messenger/internal/domain"
	"github.com/socialme/messenger/internal/observability"
)

// Service owns the current authenticated identity as a single observable
// value. Every component that depends on who is signed in subscribes here
// instead of polling the provider.
type Service struct {
	auth     domain.Authenticator
	profiles domain.ProfileStore

	mu          sync.Mutex
	current     *domain.Identity
	subscribers map[int]func(*domain.Identity)
	nextSub     int
}

func NewService(auth domain.Authenticator, profiles domain.ProfileStore) *Service {
	return &Service{
		auth:        auth,
		profiles:    profiles,
		subscribers: make(map[int]func(*domain.Identity)),
	}
}

// Subscribe registers fn for identity transitions and invokes it once with
// the current value. Notification is synchronous: by the time SignOut
// returns, every subscriber has seen the nil identity and torn down its
// dependent subscriptions.
func (s *Service) Subscribe(fn func(*domain.Identity)) domain.Unsubscribe {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Current returns the signed-in identity, or nil.
func (s *Service) Current() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) SignUpWithPassword(ctx context.Context, email, password string) error {
	id, err := s.auth.SignUpWithPassword(ctx, email, password)
	if err != nil {
		return err
	}
	s.becomeAuthenticated(ctx, id)
	return nil
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) error {
	id, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}
	s.becomeAuthenticated(ctx, id)
	return nil
}

func (s *Service) SignInWithGoogle(ctx context.Context, idToken string) error {
	id, err := s.auth.SignInWithGoogle(ctx, idToken)
	if err != nil {
		return err
	}
	s.becomeAuthenticated(ctx, id)
	return nil
}

func (s *Service) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return err
	}
	s.setIdentity(nil)
	return nil
}

// becomeAuthenticated provisions the profile and flips the observable value.
// Provisioning failure is surfaced in the log but never blocks the
// already-established session.
func (s *Service) becomeAuthenticated(ctx context.Context, id *domain.Identity) {
	if err := s.EnsureProfile(ctx, id); err != nil {
		observability.LoggerFromContext(ctx).Error("profile provisioning failed",
			"uid", id.UID, "error", err)
	}
	s.setIdentity(id)
}

// EnsureProfile creates users/{uid} if absent, copying the provider's fields.
// Idempotent: a profile created by a previous session, or concurrently, is
// accepted as success and never overwritten.
func (s *Service) EnsureProfile(ctx context.Context, id *domain.Identity) error {
	_, err := s.profiles.GetProfile(ctx, id.UID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	createErr := s.profiles.CreateProfile(ctx, &domain.UserProfile{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
	})
	if createErr != nil && !errors.Is(createErr, domain.ErrAlreadyExists) {
		return createErr
	}
	return nil
}

func (s *Service) setIdentity(id *domain.Identity) {
	s.mu.Lock()
	s.current = id
	fns := make([]func(*domain.Identity), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}
