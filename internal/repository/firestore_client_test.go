package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"company-assistant/internal/domain"
)

// fakeFirestore commits a transaction's writes only when fn succeeds.
type fakeFirestore struct {
	docs      map[string]firestoreSession
	getErr    error
	deleteErr error
	txns      int
}

func newFakeFirestore() *fakeFirestore {
	return &fakeFirestore{docs: map[string]firestoreSession{}}
}

type fakeFirestoreTx struct {
	f      *fakeFirestore
	writes map[string]firestoreSession
}

func (t *fakeFirestoreTx) Get(id string) (firestoreSession, bool, error) {
	if t.f.getErr != nil {
		return firestoreSession{}, false, t.f.getErr
	}
	doc, ok := t.f.docs[id]
	return doc, ok, nil
}

func (t *fakeFirestoreTx) Set(id string, doc firestoreSession) error {
	t.writes[id] = doc
	return nil
}

func (f *fakeFirestore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx firestoreTx) error) error {
	f.txns++
	tx := &fakeFirestoreTx{f: f, writes: map[string]firestoreSession{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, doc := range tx.writes {
		f.docs[id] = doc
	}
	return nil
}

func (f *fakeFirestore) Get(_ context.Context, id string) (firestoreSession, bool, error) {
	if f.getErr != nil {
		return firestoreSession{}, false, f.getErr
	}
	doc, ok := f.docs[id]
	return doc, ok, nil
}

func (f *fakeFirestore) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, id)
	return nil
}

func newTestFirestoreStore(t *testing.T, f *fakeFirestore) *FirestoreStore {
	t.Helper()
	s, err := NewFirestoreStore(f, time.Hour, time.Minute)
	require.NoError(t, err)
	s.now = fixedNow
	return s
}

func TestNewFirestoreStore(t *testing.T) {
	_, err := NewFirestoreStore(nil, 0, 0)
	require.Error(t, err)

	s, err := NewFirestoreStore(newFakeFirestore(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, defaultSessionTTL, s.sessionTTL)
	require.Equal(t, defaultLease, s.lease)
}

func TestNewFirestoreSessions_NilClient(t *testing.T) {
	_, err := NewFirestoreSessions(nil, "")
	require.Error(t, err)
}

func TestFirestoreStore_AppendAndLoad(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()

	history, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Empty(t, history)

	user := domain.Message{Role: domain.RoleUser, Text: "Hi"}
	reply := domain.Message{Role: domain.RoleAssistant, Text: "Hello!"}
	require.NoError(t, s.Append(ctx, "abc", 0, user))
	require.NoError(t, s.Append(ctx, "abc", 1, reply))

	history, err = s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []domain.Message{user, reply}, history)

	doc := f.docs["abc"]
	require.Equal(t, fixedNow().UTC(), doc.UpdatedAt)
	require.Equal(t, fixedNow().UTC().Add(time.Hour), doc.ExpireAt)
}

func TestFirestoreStore_AppendWrongOffset(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "Hi"}))
	err := s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "again"})
	require.ErrorContains(t, err, "history has 1 messages, expected 0")
	require.Len(t, f.docs["abc"].Messages, 1)
}

func TestFirestoreStore_AppendNothing(t *testing.T) {
	f := newFakeFirestore()
	require.NoError(t, newTestFirestoreStore(t, f).Append(context.Background(), "abc", 3))
	require.Zero(t, f.txns)
}

func TestFirestoreStore_Lease(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, "abc"))
	require.Equal(t, fixedNow().Add(time.Minute).UTC(), f.docs["abc"].LeaseUntil)
	require.ErrorIs(t, s.Acquire(ctx, "abc"), domain.ErrSessionBusy)

	require.NoError(t, s.Release(ctx, "abc"))
	require.True(t, f.docs["abc"].LeaseUntil.IsZero())
	require.NoError(t, s.Acquire(ctx, "abc"))
}

func TestFirestoreStore_ExpiredLease(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, "abc"))
	s.now = func() time.Time { return fixedNow().Add(2 * time.Minute) }
	require.NoError(t, s.Acquire(ctx, "abc"))
}

func TestFirestoreStore_LeaseKeepsHistory(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, "abc"))
	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "Hi"}))
	require.NoError(t, s.Release(ctx, "abc"))

	history, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestFirestoreStore_ReleaseMissing(t *testing.T) {
	f := newFakeFirestore()
	require.NoError(t, newTestFirestoreStore(t, f).Release(context.Background(), "nope"))
	require.Empty(t, f.docs)
}

func TestFirestoreStore_Reset(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "Hi"}))
	require.NoError(t, s.Reset(ctx, "abc"))
	require.NotContains(t, f.docs, "abc")

	f.deleteErr = status.Error(codes.NotFound, "gone")
	require.NoError(t, s.Reset(ctx, "abc"))

	f.deleteErr = status.Error(codes.Unavailable, "down")
	require.Error(t, s.Reset(ctx, "abc"))
}

func TestFirestoreStore_ReadErrors(t *testing.T) {
	f := newFakeFirestore()
	s := newTestFirestoreStore(t, f)
	ctx := context.Background()
	f.getErr = errors.New("deadline")

	_, err := s.Load(ctx, "abc")
	require.ErrorContains(t, err, "repository: Load")
	require.ErrorContains(t, s.Append(ctx, "abc", 0, domain.Message{Role: domain.RoleUser, Text: "Hi"}), "repository: Append")

	err = s.Acquire(ctx, "abc")
	require.ErrorContains(t, err, "repository: Acquire")
	require.NotErrorIs(t, err, domain.ErrSessionBusy)
	require.Error(t, s.Release(ctx, "abc"))
}
