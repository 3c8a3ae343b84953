package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"company-assistant/internal/domain"
	"company-assistant/internal/observability"
)

// HistoryStore keeps one session's canonical history for the lifetime of
// that session.
type HistoryStore interface {
	Load(ctx context.Context, sessionID string) ([]domain.Message, error)
	// Append writes msgs at position offset. It fails if the stored history
	// does not have exactly offset entries.
	Append(ctx context.Context, sessionID string, offset int, msgs ...domain.Message) error
	// Acquire takes the session's in-flight lease or returns
	// domain.ErrSessionBusy.
	Acquire(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string) error
	Reset(ctx context.Context, sessionID string) error
}

type State int

const (
	StateIdle State = iota
	StateValidating
	StateSending
	// StateResetting refuses Submit while the store is being cleared.
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSending:
		return "sending"
	case StateResetting:
		return "resetting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EntryKind string

const (
	EntryMessage  EntryKind = "message"
	EntryGreeting EntryKind = "greeting"
	EntryNotice   EntryKind = "notice"
	EntryError    EntryKind = "error"
)

// Entry is one line of the rendered conversation. Only EntryMessage entries
// are part of the canonical history.
type Entry struct {
	Kind      EntryKind   `json:"kind"`
	Role      domain.Role `json:"role,omitempty"`
	Text      string      `json:"text"`
	ErrorKind ErrorKind   `json:"errorKind,omitempty"`
}

const unavailableNotice = "Sorry, the assistant is currently unavailable due to a configuration issue (API Key). Please contact support."

type SessionOption func(*Session)

// WithClock overrides the clock used for the greeting.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// Session owns one conversation's history and allows one request at a time.
type Session struct {
	id        string
	assistant *Assistant
	store     HistoryStore
	now       func() time.Time

	mu         sync.Mutex
	state      State
	history    []domain.Message
	transcript []Entry
}

// OpenSession loads any history already held for id and, for a fresh
// session, adds a greeting (or an unavailability notice).
func OpenSession(ctx context.Context, id string, a *Assistant, store HistoryStore, opts ...SessionOption) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("usecase: session id must not be empty")
	}
	if a == nil {
		return nil, errors.New("usecase: assistant must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	s := &Session{id: id, assistant: a, store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	history, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usecase: load session history: %w", err)
	}
	s.history = history
	for _, m := range history {
		s.transcript = append(s.transcript, messageEntry(m))
	}
	if len(history) == 0 {
		s.transcript = append(s.transcript, s.openingEntry(ctx))
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the canonical history.
func (s *Session) History() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneHistory(s.history)
}

// Transcript returns a copy of everything the session has displayed.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Submit sends text as the next user turn. Blank text returns
// ErrEmptyMessage and a busy session returns ErrRequestInFlight; neither
// changes state. Every other failure is a *DomainError, shown inline in the
// transcript, and leaves the session Idle.
func (s *Session) Submit(ctx context.Context, text string) (domain.ChatResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatResponse{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return domain.ChatResponse{}, ErrRequestInFlight
	}
	s.state = StateValidating
	s.mu.Unlock()

	log := observability.LoggerFromContext(ctx).With("session_id", s.id)

	if status := s.assistant.guard.Check(ctx); !status.Configured {
		return domain.ChatResponse{}, s.failIdle(s.assistant.fail(ctx, fmt.Errorf("%w: %s", ErrNotConfigured, status.Detail)))
	}

	if err := s.store.Acquire(ctx, s.id); err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			s.setIdle()
			return domain.ChatResponse{}, ErrRequestInFlight
		}
		return domain.ChatResponse{}, s.failIdle(s.storeFailure(ctx, "acquire", err))
	}
	defer func() {
		if err := s.store.Release(context.WithoutCancel(ctx), s.id); err != nil {
			log.Error("failed to release session lease", "err", err)
		}
	}()

	// Another instance may have extended the history while we were idle.
	prior, err := s.store.Load(ctx, s.id)
	if err != nil {
		return domain.ChatResponse{}, s.failIdle(s.storeFailure(ctx, "load", err))
	}
	user := domain.Message{Role: domain.RoleUser, Text: text}
	if err := s.store.Append(ctx, s.id, len(prior), user); err != nil {
		return domain.ChatResponse{}, s.failIdle(s.storeFailure(ctx, "append user message", err))
	}

	s.mu.Lock()
	s.state = StateSending
	s.history = append(domain.CloneHistory(prior), user)
	s.transcript = append(s.transcript, messageEntry(user))
	s.mu.Unlock()

	resp, err := s.assistant.exchange(ctx, prior, text)
	if err != nil {
		return domain.ChatResponse{}, s.failIdle(err)
	}

	reply := domain.Message{Role: domain.RoleAssistant, Text: resp.Reply}
	if err := s.store.Append(ctx, s.id, len(prior)+1, reply); err != nil {
		return domain.ChatResponse{}, s.failIdle(s.storeFailure(ctx, "append reply", err))
	}

	s.mu.Lock()
	s.history = append(s.history, reply)
	s.transcript = append(s.transcript, messageEntry(reply))
	s.state = StateIdle
	s.mu.Unlock()

	log.Info("session exchange completed", "history_len", len(prior)+2)
	return resp, nil
}

// Reset clears the conversation, as when the chat is closed and reopened.
// Submit is refused until it returns.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	s.state = StateResetting
	s.mu.Unlock()
	defer s.setIdle()

	if err := s.store.Reset(ctx, s.id); err != nil {
		return fmt.Errorf("usecase: reset session: %w", err)
	}
	opening := s.openingEntry(ctx)

	s.mu.Lock()
	s.history = nil
	s.transcript = []Entry{opening}
	s.mu.Unlock()
	return nil
}

// failIdle records err inline and returns the session to Idle.
func (s *Session) failIdle(err error) error {
	derr := Classify(err)
	s.mu.Lock()
	s.transcript = append(s.transcript, Entry{
		Kind:      EntryError,
		Text:      "Error: " + derr.Message,
		ErrorKind: derr.Kind,
	})
	s.state = StateIdle
	s.mu.Unlock()
	return derr
}

func (s *Session) setIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Session) storeFailure(ctx context.Context, op string, err error) *DomainError {
	observability.LoggerFromContext(ctx).Error("session store failure", "session_id", s.id, "op", op, "err", err)
	return newError(KindUnknown, fmt.Errorf("usecase: session store %s: %w", op, err))
}

func (s *Session) openingEntry(ctx context.Context) Entry {
	if !s.assistant.Status(ctx).Configured {
		return Entry{Kind: EntryNotice, Text: unavailableNotice}
	}
	return Entry{Kind: EntryGreeting, Role: domain.RoleAssistant, Text: greeting(s.now())}
}

func greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning! How can I help you today?"
	case h < 18:
		return "Good afternoon! How can I assist you?"
	default:
		return "Good evening! What can I do for you?"
	}
}

func messageEntry(m domain.Message) Entry {
	return Entry{Kind: EntryMessage, Role: m.Role, Text: m.Text}
}
