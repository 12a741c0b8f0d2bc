package domain

import "errors"

// Sentinel errors shared across adapters and services. Adapters wrap their
// backend errors into these so the app layer can use errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotSignedIn    = errors.New("not signed in")
	ErrNoPeerSelected = errors.New("no peer selected")
	ErrEmptyMessage   = errors.New("empty message")
	ErrNoFile         = errors.New("no file provided")
	ErrInvalidMessage = errors.New("message carries neither text nor attachment")
)
