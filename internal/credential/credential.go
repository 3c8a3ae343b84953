// Package credential resolves the API key used for the remote model.
//
// Sources are consulted on every call; callers that need a stable value for a
// single request should resolve once and reuse it for that request only.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"company-assistant/internal/integrations/paramstore"
)

const (
	// DefaultEnvKey is the environment variable holding the API key.
	DefaultEnvKey = "GOOGLE_GENAI_API_KEY"
	// Placeholder is the documented sentinel for an unset key.
	Placeholder = "MISSING_API_KEY"
)

var (
	ErrNotSet      = errors.New("credential: not set")
	ErrEmpty       = errors.New("credential: empty")
	ErrPlaceholder = errors.New("credential: placeholder value")
)

// Source yields the current credential value.
type Source interface {
	Credential(ctx context.Context) (string, error)
	// Name describes where the value comes from, for diagnostics. It never
	// includes the value.
	Name() string
}

// Check validates a raw credential value.
func Check(v string) error {
	switch strings.TrimSpace(v) {
	case "":
		return ErrEmpty
	case Placeholder:
		return ErrPlaceholder
	}
	return nil
}

// Resolve reads src and returns the value only if it is usable.
func Resolve(ctx context.Context, src Source) (string, error) {
	if src == nil {
		return "", ErrNotSet
	}
	v, err := src.Credential(ctx)
	if err != nil {
		return "", err
	}
	if err := Check(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// Env reads an environment variable on every call.
type Env struct {
	Key    string
	lookup func(string) (string, bool)
}

func NewEnv(key string) *Env {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultEnvKey
	}
	return &Env{Key: key, lookup: os.LookupEnv}
}

func (e *Env) Credential(_ context.Context) (string, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.Key)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s", ErrNotSet, e.Key)
	}
	return v, nil
}

func (e *Env) Name() string { return "env:" + e.Key }

// Static is a fixed value supplied at construction.
type Static struct {
	Value string
}

func (s Static) Credential(_ context.Context) (string, error) { return s.Value, nil }

func (s Static) Name() string { return "static" }

// Getter is the subset of paramstore.Client used here.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the JSON shape optionally stored in SSM for the key.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStore reads the credential from SSM Parameter Store. Values are
// cached for ttl so a rotated key is picked up without a restart.
type ParamStore struct {
	getter Getter
	name   string
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
}

func NewParamStore(getter Getter, name string, ttl time.Duration) (*ParamStore, error) {
	if getter == nil {
		return nil, errors.New("credential: paramstore getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credential: parameter name must not be empty")
	}
	return &ParamStore{getter: getter, name: name, ttl: ttl, now: time.Now}, nil
}

func (p *ParamStore) Credential(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && p.ttl > 0 && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}
	raw, err := p.getter.GetParameter(ctx, p.name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", fmt.Errorf("%w: parameter %s: %w", ErrNotSet, p.name, err)
	}
	if err != nil {
		return "", fmt.Errorf("credential: fetch %s: %w", p.name, err)
	}
	v, err := parseToken(raw)
	if err != nil {
		return "", err
	}
	p.cached = v
	p.fetchedAt = p.now()
	return v, nil
}

func (p *ParamStore) Name() string { return "ssm:" + p.name }

// parseToken accepts either a bare key or {"token": "..."}.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("credential: unmarshal token payload: %w", err)
	}
	return tp.Token, nil
}
