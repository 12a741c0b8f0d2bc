package domain

import (
	"context"
	"io"
)

// Unsubscribe releases a live subscription. Safe to call more than once.
type Unsubscribe func()

// Identity is what the identity provider reports about a signed-in user.
type Identity struct {
	UID         UserID
	Email       string
	DisplayName string
	PhotoURL    string
}

// Authenticator wraps the external identity provider. All failures come back
// as error values with user-displayable messages; none are fatal.
type Authenticator interface {
	SignUpWithPassword(ctx context.Context, email, password string) (*Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	// SignInWithGoogle exchanges a Google ID token obtained by the caller's
	// federated flow for a verified identity.
	SignInWithGoogle(ctx context.Context, idToken string) (*Identity, error)
	SignOut(ctx context.Context) error
}

// ProfileStore persists UserProfile records at users/{uid}.
type ProfileStore interface {
	// GetProfile returns ErrNotFound when no profile exists for uid.
	GetProfile(ctx context.Context, uid UserID) (*UserProfile, error)
	// CreateProfile returns ErrAlreadyExists when the document is already
	// there; callers provisioning idempotently treat that as success.
	CreateProfile(ctx context.Context, p *UserProfile) error
	// WatchProfiles delivers the full current profile set to fn on every
	// change. errFn is invoked if the watch drops; the subscription is dead
	// after that.
	WatchProfiles(ctx context.Context, fn func([]*UserProfile), errFn func(error)) (Unsubscribe, error)
}

// MessageStore persists messages under conversations/{key}/messages.
type MessageStore interface {
	// AppendMessage writes msg with a store-assigned id and timestamp.
	AppendMessage(ctx context.Context, key ConversationKey, msg *Message) error
	// LatestMessage returns the single most recent message, or ErrNotFound
	// when the conversation is empty.
	LatestMessage(ctx context.Context, key ConversationKey) (*Message, error)
	// WatchMessages delivers the conversation's full message set, ordered by
	// CreatedAt ascending, to fn on every change.
	WatchMessages(ctx context.Context, key ConversationKey, fn func([]*Message), errFn func(error)) (Unsubscribe, error)
}

// BlobStore holds raw attachment bytes and hands back durable download URLs.
type BlobStore interface {
	Upload(ctx context.Context, path, contentType string, r io.Reader) (url string, err error)
}
