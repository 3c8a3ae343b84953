package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"company-assistant/internal/domain"
	"company-assistant/internal/observability"
)

// ErrInvalidSessionID is returned for ids that are empty or contain
// characters unsafe for store keys.
var ErrInvalidSessionID = errors.New("usecase: invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// SessionService opens a Session per request over a shared store. It backs
// stateless front ends where each call may land on a different instance.
type SessionService struct {
	assistant *Assistant
	store     HistoryStore
	opts      []SessionOption
}

func NewSessionService(a *Assistant, store HistoryStore, opts ...SessionOption) (*SessionService, error) {
	if a == nil {
		return nil, errors.New("usecase: assistant must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	return &SessionService{assistant: a, store: store, opts: opts}, nil
}

func checkSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Start creates a session with a fresh id and returns its opening entry.
func (s *SessionService) Start(ctx context.Context) (string, Entry, error) {
	id := uuid.NewString()
	sess, err := OpenSession(ctx, id, s.assistant, s.store, s.opts...)
	if err != nil {
		return "", Entry{}, err
	}
	var opening Entry
	if t := sess.Transcript(); len(t) > 0 {
		opening = t[0]
	}
	return id, opening, nil
}

// Send submits message to session id and returns the reply with the
// resulting history.
func (s *SessionService) Send(ctx context.Context, id, message string) (domain.ChatResponse, []domain.Message, error) {
	if err := checkSessionID(id); err != nil {
		return domain.ChatResponse{}, nil, err
	}
	sess, err := OpenSession(ctx, id, s.assistant, s.store, s.opts...)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("session store failure", "session_id", id, "op", "open", "err", err)
		return domain.ChatResponse{}, nil, newError(KindUnknown, err)
	}
	resp, err := sess.Submit(ctx, message)
	if err != nil {
		return domain.ChatResponse{}, nil, err
	}
	return resp, sess.History(), nil
}

// History returns the canonical history of session id.
func (s *SessionService) History(ctx context.Context, id string) ([]domain.Message, error) {
	if err := checkSessionID(id); err != nil {
		return nil, err
	}
	history, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usecase: load session history: %w", err)
	}
	return history, nil
}

// Reset deletes session id. It is refused while a request is in flight.
func (s *SessionService) Reset(ctx context.Context, id string) error {
	if err := checkSessionID(id); err != nil {
		return err
	}
	if err := s.store.Acquire(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			return ErrRequestInFlight
		}
		return fmt.Errorf("usecase: reset session: %w", err)
	}
	if err := s.store.Reset(ctx, id); err != nil {
		if rerr := s.store.Release(context.WithoutCancel(ctx), id); rerr != nil {
			observability.LoggerFromContext(ctx).Error("failed to release session lease", "session_id", id, "err", rerr)
		}
		return fmt.Errorf("usecase: reset session: %w", err)
	}
	return nil
}
