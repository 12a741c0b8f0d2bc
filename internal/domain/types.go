package domain

import "time"

type UserID string
type MessageID string

// ConversationKey identifies the thread between two users. It is derived,
// never stored as its own record; see ConversationKeyFor.
type ConversationKey string

type Timestamp = time.Time
