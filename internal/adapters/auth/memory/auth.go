package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/socialme/messenger/internal/domain"
)

var (
	errEmailTaken         = errors.New("email already in use")
	errInvalidCredentials = errors.New("invalid email or password")
)

type account struct {
	identity domain.Identity
	password string
}

// Authenticator is the in-memory identity provider for local mode and tests.
type Authenticator struct {
	mu       sync.Mutex
	accounts map[string]*account
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{accounts: make(map[string]*account)}
}

func (a *Authenticator) SignUpWithPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errInvalidCredentials
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.accounts[email]; exists {
		return nil, errEmailTaken
	}

	acc := &account{
		identity: domain.Identity{
			UID:         domain.UserID(uuid.NewString()),
			Email:       email,
			DisplayName: strings.SplitN(email, "@", 2)[0],
		},
		password: password,
	}
	a.accounts[email] = acc

	id := acc.identity
	return &id, nil
}

func (a *Authenticator) SignInWithPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.accounts[email]
	if !ok || acc.password != password {
		return nil, errInvalidCredentials
	}

	id := acc.identity
	return &id, nil
}

// SignInWithGoogle accepts any non-empty token and mints an identity from it,
// enough to drive the federated path in local mode.
func (a *Authenticator) SignInWithGoogle(ctx context.Context, idToken string) (*domain.Identity, error) {
	if idToken == "" {
		return nil, errors.New("missing id token")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	email := idToken + "@google.local"
	acc, ok := a.accounts[email]
	if !ok {
		acc = &account{
			identity: domain.Identity{
				UID:         domain.UserID(uuid.NewString()),
				Email:       email,
				DisplayName: idToken,
			},
		}
		a.accounts[email] = acc
	}

	id := acc.identity
	return &id, nil
}

func (a *Authenticator) SignOut(ctx context.Context) error {
	return nil
}
