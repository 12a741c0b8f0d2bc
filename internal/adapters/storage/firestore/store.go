package firestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/socialme/messenger/internal/domain"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (MESSENGER_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) usersCol() *firestore.CollectionRef {
	return s.client.Collection("users")
}

func (s *Store) userDoc(uid domain.UserID) *firestore.DocumentRef {
	return s.usersCol().Doc(string(uid))
}

func (s *Store) messagesCol(key domain.ConversationKey) *firestore.CollectionRef {
	return s.client.Collection("conversations").Doc(string(key)).Collection("messages")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

// Field names match the layout the backend already holds, so this client
// interoperates with conversations written by other clients of the store.

type profileDoc struct {
	UID         string `firestore:"uid"`
	Email       string `firestore:"email"`
	DisplayName string `firestore:"displayName"`
	PhotoURL    string `firestore:"photoURL"`
	Desc        string `firestore:"desc"`
}

type messageDoc struct {
	Text      string    `firestore:"text,omitempty"`
	From      string    `firestore:"from"`
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp"`
	FileURL   string    `firestore:"fileUrl,omitempty"`
	FileName  string    `firestore:"fileName,omitempty"`
	FileType  string    `firestore:"fileType,omitempty"`
}

func toMessage(id string, doc messageDoc) *domain.Message {
	msg := &domain.Message{
		ID:        domain.MessageID(id),
		From:      domain.UserID(doc.From),
		Text:      doc.Text,
		CreatedAt: doc.CreatedAt,
	}
	if doc.FileURL != "" {
		msg.Attachment = &domain.Attachment{
			URL:      doc.FileURL,
			MimeType: doc.FileType,
			Filename: doc.FileName,
		}
	}
	return msg
}

// ─────────────────────────────────────────
// ProfileStore implementation
// ─────────────────────────────────────────

func (s *Store) GetProfile(ctx context.Context, uid domain.UserID) (*domain.UserProfile, error) {
	snap, err := s.userDoc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetProfile: %w", err)
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetProfile decode: %w", err)
	}

	return &domain.UserProfile{
		UID:         domain.UserID(doc.UID),
		Email:       doc.Email,
		DisplayName: doc.DisplayName,
		PhotoURL:    doc.PhotoURL,
		Desc:        doc.Desc,
	}, nil
}

func (s *Store) CreateProfile(ctx context.Context, p *domain.UserProfile) error {
	doc := profileDoc{
		UID:         string(p.UID),
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Desc:        p.Desc,
	}

	_, err := s.userDoc(p.UID).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("firestore CreateProfile: %w", err)
	}
	return nil
}

func (s *Store) WatchProfiles(ctx context.Context, fn func([]*domain.UserProfile), errFn func(error)) (domain.Unsubscribe, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		it := s.usersCol().Query.Snapshots(watchCtx)
		defer it.Stop()

		for {
			qsnap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					errFn(fmt.Errorf("firestore WatchProfiles: %w", err))
				}
				return
			}

			docs, err := qsnap.Documents.GetAll()
			if err != nil {
				errFn(fmt.Errorf("firestore WatchProfiles read: %w", err))
				return
			}

			profiles := make([]*domain.UserProfile, 0, len(docs))
			for _, d := range docs {
				var doc profileDoc
				if err := d.DataTo(&doc); err != nil {
					errFn(fmt.Errorf("decode profileDoc: %w", err))
					return
				}
				profiles = append(profiles, &domain.UserProfile{
					UID:         domain.UserID(doc.UID),
					Email:       doc.Email,
					DisplayName: doc.DisplayName,
					PhotoURL:    doc.PhotoURL,
					Desc:        doc.Desc,
				})
			}
			sort.Slice(profiles, func(i, j int) bool { return profiles[i].UID < profiles[j].UID })

			fn(profiles)
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, key domain.ConversationKey, msg *domain.Message) error {
	if _, _, ok := key.Participants(); !ok {
		return fmt.Errorf("malformed conversation key %q", key)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	doc := messageDoc{
		Text: msg.Text,
		From: string(msg.From),
	}
	if msg.Attachment != nil {
		doc.FileURL = msg.Attachment.URL
		doc.FileName = msg.Attachment.Filename
		doc.FileType = msg.Attachment.MimeType
	}

	// CreatedAt stays zero so the serverTimestamp tag lets the backend
	// assign the write time.
	ref := s.messagesCol(key).NewDoc()
	wr, err := ref.Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}

	msg.ID = domain.MessageID(ref.ID)
	msg.CreatedAt = wr.UpdateTime
	return nil
}

func (s *Store) LatestMessage(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	q := s.messagesCol(key).OrderBy("createdAt", firestore.Desc).Limit(1)

	iter := q.Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore LatestMessage: %w", err)
	}

	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode messageDoc: %w", err)
	}
	return toMessage(snap.Ref.ID, doc), nil
}

func (s *Store) WatchMessages(ctx context.Context, key domain.ConversationKey, fn func([]*domain.Message), errFn func(error)) (domain.Unsubscribe, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		q := s.messagesCol(key).OrderBy("createdAt", firestore.Asc)
		it := q.Snapshots(watchCtx)
		defer it.Stop()

		for {
			qsnap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					errFn(fmt.Errorf("firestore WatchMessages: %w", err))
				}
				return
			}

			docs, err := qsnap.Documents.GetAll()
			if err != nil {
				errFn(fmt.Errorf("firestore WatchMessages read: %w", err))
				return
			}

			msgs := make([]*domain.Message, 0, len(docs))
			for _, d := range docs {
				var doc messageDoc
				if err := d.DataTo(&doc); err != nil {
					errFn(fmt.Errorf("decode messageDoc: %w", err))
					return
				}
				msgs = append(msgs, toMessage(d.Ref.ID, doc))
			}

			fn(msgs)
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}
