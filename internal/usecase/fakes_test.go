package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"company-assistant/internal/credential"
	"company-assistant/internal/domain"
	"company-assistant/internal/knowledge"
	"company-assistant/internal/repository"
)

type fakeTransport struct {
	mu    sync.Mutex
	resp  domain.RawResponse
	err   error
	calls int
	last  domain.PromptRequest
	// block, when set, holds Generate until it is closed.
	block chan struct{}
}

func (f *fakeTransport) Generate(ctx context.Context, req domain.PromptRequest) (domain.RawResponse, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.RawResponse{}, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) Last() domain.PromptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func reply(text string) domain.RawResponse {
	return domain.RawResponse{Text: text, HasText: true, FinishReason: "stop"}
}

// statusError mimics a transport error carrying an HTTP status.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string       { return e.msg }
func (e *statusError) HTTPStatusCode() int { return e.code }

// providerError mimics a transport error carrying a provider status name.
type providerError struct {
	status string
	msg    string
}

func (e *providerError) Error() string          { return e.msg }
func (e *providerError) ProviderStatus() string { return e.status }

// failingStore wraps a MemoryStore and fails selected operations.
type failingStore struct {
	*repository.MemoryStore
	loadErr    error
	appendErr  error
	acquireErr error
	resetErr   error
	releaseErr error
	// resetStarted and resetBlock, when set, hold Reset until resetBlock
	// is closed.
	resetStarted chan struct{}
	resetBlock   chan struct{}
	appends      int
	// failAppendAt fails only the n-th Append (1-based) when set.
	failAppendAt int
}

func newFailingStore() *failingStore {
	return &failingStore{MemoryStore: repository.NewMemoryStore()}
}

func (s *failingStore) Load(ctx context.Context, id string) ([]domain.Message, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.MemoryStore.Load(ctx, id)
}

func (s *failingStore) Append(ctx context.Context, id string, offset int, msgs ...domain.Message) error {
	s.appends++
	if s.appendErr != nil && (s.failAppendAt == 0 || s.failAppendAt == s.appends) {
		return s.appendErr
	}
	return s.MemoryStore.Append(ctx, id, offset, msgs...)
}

func (s *failingStore) Acquire(ctx context.Context, id string) error {
	if s.acquireErr != nil {
		return s.acquireErr
	}
	return s.MemoryStore.Acquire(ctx, id)
}

func (s *failingStore) Release(ctx context.Context, id string) error {
	if s.releaseErr != nil {
		return s.releaseErr
	}
	return s.MemoryStore.Release(ctx, id)
}

func (s *failingStore) Reset(ctx context.Context, id string) error {
	if s.resetBlock != nil {
		close(s.resetStarted)
		<-s.resetBlock
	}
	if s.resetErr != nil {
		return s.resetErr
	}
	return s.MemoryStore.Reset(ctx, id)
}

func defaultKnowledge(t *testing.T) knowledge.Context {
	t.Helper()
	kc, err := knowledge.Default()
	require.NoError(t, err)
	return kc
}

func newTestAssistant(t *testing.T, key string, tr Transport) *Assistant {
	t.Helper()
	a, err := BuildAssistant(context.Background(), Options{
		Credential:  credential.Static{Value: key},
		Transport:   tr,
		Knowledge:   defaultKnowledge(t),
		Temperature: DefaultTemperature,
	})
	require.NoError(t, err)
	return a
}

func morning() time.Time {
	return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
}
