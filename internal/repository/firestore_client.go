package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"company-assistant/internal/domain"
)

const defaultFirestoreCollection = "assistant_sessions"

// firestoreSession is the single document kept per session. expireAt is
// meant for a Firestore TTL policy on the collection.
type firestoreSession struct {
	Messages   []firestoreMessage `firestore:"messages"`
	LeaseUntil time.Time          `firestore:"leaseUntil"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
	ExpireAt   time.Time          `firestore:"expireAt"`
}

type firestoreMessage struct {
	Role string `firestore:"role"`
	Text string `firestore:"text"`
}

// firestoreTx is what FirestoreStore needs inside a transaction.
type firestoreTx interface {
	Get(id string) (firestoreSession, bool, error)
	Set(id string, doc firestoreSession) error
}

// firestoreDocs is the session collection seen by FirestoreStore.
type firestoreDocs interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx firestoreTx) error) error
	Get(ctx context.Context, id string) (firestoreSession, bool, error)
	Delete(ctx context.Context, id string) error
}

// FirestoreSessions adapts a Firestore collection to FirestoreStore.
type FirestoreSessions struct {
	client *firestore.Client
	col    *firestore.CollectionRef
}

// NewFirestoreSessions uses collection, or assistant_sessions when empty.
func NewFirestoreSessions(client *firestore.Client, collection string) (*FirestoreSessions, error) {
	if client == nil {
		return nil, errors.New("repository: firestore client must not be nil")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultFirestoreCollection
	}
	return &FirestoreSessions{client: client, col: client.Collection(collection)}, nil
}

func (f *FirestoreSessions) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx firestoreTx) error) error {
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, firestoreTxn{tx: tx, col: f.col})
	})
}

func (f *FirestoreSessions) Get(ctx context.Context, id string) (firestoreSession, bool, error) {
	snap, err := f.col.Doc(id).Get(ctx)
	return decodeSnapshot(snap, err)
}

func (f *FirestoreSessions) Delete(ctx context.Context, id string) error {
	_, err := f.col.Doc(id).Delete(ctx)
	return err
}

type firestoreTxn struct {
	tx  *firestore.Transaction
	col *firestore.CollectionRef
}

func (t firestoreTxn) Get(id string) (firestoreSession, bool, error) {
	snap, err := t.tx.Get(t.col.Doc(id))
	return decodeSnapshot(snap, err)
}

func (t firestoreTxn) Set(id string, doc firestoreSession) error {
	return t.tx.Set(t.col.Doc(id), doc)
}

func decodeSnapshot(snap *firestore.DocumentSnapshot, err error) (firestoreSession, bool, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return firestoreSession{}, false, nil
		}
		return firestoreSession{}, false, err
	}
	var doc firestoreSession
	if err := snap.DataTo(&doc); err != nil {
		return firestoreSession{}, false, fmt.Errorf("decode session document: %w", err)
	}
	return doc, true, nil
}

// FirestoreStore keeps session history in Cloud Firestore. Appends and the
// lease are read-modify-write inside one transaction each.
type FirestoreStore struct {
	docs       firestoreDocs
	sessionTTL time.Duration
	lease      time.Duration
	now        func() time.Time
}

func NewFirestoreStore(docs firestoreDocs, sessionTTL, lease time.Duration) (*FirestoreStore, error) {
	if docs == nil {
		return nil, errors.New("repository: firestore collection must not be nil")
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if lease <= 0 {
		lease = defaultLease
	}
	return &FirestoreStore{docs: docs, sessionTTL: sessionTTL, lease: lease, now: time.Now}, nil
}

func (s *FirestoreStore) touch(doc firestoreSession) firestoreSession {
	now := s.now().UTC()
	doc.UpdatedAt = now
	doc.ExpireAt = now.Add(s.sessionTTL)
	return doc
}

func (s *FirestoreStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	doc, _, err := s.docs.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	if len(doc.Messages) == 0 {
		return nil, nil
	}
	out := make([]domain.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		out = append(out, domain.Message{Role: domain.Role(m.Role), Text: m.Text})
	}
	return out, nil
}

func (s *FirestoreStore) Append(ctx context.Context, sessionID string, offset int, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := s.docs.RunTransaction(ctx, func(_ context.Context, tx firestoreTx) error {
		doc, _, err := tx.Get(sessionID)
		if err != nil {
			return err
		}
		if len(doc.Messages) != offset {
			return fmt.Errorf("history has %d messages, expected %d", len(doc.Messages), offset)
		}
		for _, m := range msgs {
			doc.Messages = append(doc.Messages, firestoreMessage{Role: string(m.Role), Text: m.Text})
		}
		return tx.Set(sessionID, s.touch(doc))
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Acquire(ctx context.Context, sessionID string) error {
	err := s.docs.RunTransaction(ctx, func(_ context.Context, tx firestoreTx) error {
		doc, _, err := tx.Get(sessionID)
		if err != nil {
			return err
		}
		now := s.now()
		if doc.LeaseUntil.After(now) {
			return domain.ErrSessionBusy
		}
		doc.LeaseUntil = now.Add(s.lease).UTC()
		return tx.Set(sessionID, s.touch(doc))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrSessionBusy):
		return domain.ErrSessionBusy
	default:
		return fmt.Errorf("repository: Acquire: %w", err)
	}
}

func (s *FirestoreStore) Release(ctx context.Context, sessionID string) error {
	err := s.docs.RunTransaction(ctx, func(_ context.Context, tx firestoreTx) error {
		doc, found, err := tx.Get(sessionID)
		if err != nil || !found || doc.LeaseUntil.IsZero() {
			return err
		}
		doc.LeaseUntil = time.Time{}
		return tx.Set(sessionID, s.touch(doc))
	})
	if err != nil {
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Reset(ctx context.Context, sessionID string) error {
	if err := s.docs.Delete(ctx, sessionID); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("repository: Reset: %w", err)
	}
	return nil
}
