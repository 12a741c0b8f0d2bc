package domain

import "strings"

// Attachment describes an uploaded file referenced by a message. The blob
// itself lives in the blob store; only the durable URL is persisted here.
type Attachment struct {
	URL      string
	MimeType string
	Filename string
}

// IsImage reports whether the attachment should render inline rather than as
// a download link.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// Message is one entry in a conversation's append-only log. A message may
// carry text, an attachment, or both; neither is invalid.
//
// From holds the sender's uid. Alignment in the view compares From against
// the current session's uid with exact equality, so the uid is the one
// canonical identity used everywhere a message is authored.
type Message struct {
	ID         MessageID
	From       UserID
	Text       string
	Attachment *Attachment
	CreatedAt  Timestamp
}

// Validate rejects the one shape the data model forbids: a message with
// neither text nor attachment.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" && m.Attachment == nil {
		return ErrInvalidMessage
	}
	return nil
}
