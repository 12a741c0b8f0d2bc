package domain

import (
	"errors"
	"strings"
)

// conversationKeySep joins the two uids inside a key. Firebase uids never
// contain an underscore, so the key parses back unambiguously.
const conversationKeySep = "_"

// ConversationKeyFor maps an unordered pair of users to the canonical key of
// their thread. Symmetric: ConversationKeyFor(a, b) == ConversationKeyFor(b, a).
// Both participants compute it independently, so it must stay a pure function
// of the two identities.
func ConversationKeyFor(a, b UserID) (ConversationKey, error) {
	if a == "" || b == "" {
		return "", errors.New("conversation key requires two non-empty identities")
	}
	if a == b {
		return "", errors.New("conversation key requires two distinct identities")
	}
	lo, hi := string(a), string(b)
	if lo > hi {
		lo, hi = hi, lo
	}
	return ConversationKey(lo + conversationKeySep + hi), nil
}

// Participants splits a key back into the two uids it was built from.
func (k ConversationKey) Participants() (UserID, UserID, bool) {
	lo, hi, ok := strings.Cut(string(k), conversationKeySep)
	if !ok || lo == "" || hi == "" {
		return "", "", false
	}
	return UserID(lo), UserID(hi), true
}
