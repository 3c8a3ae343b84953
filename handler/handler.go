package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"company-assistant/internal/domain"
	"company-assistant/internal/observability"
	"company-assistant/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	codeInvalidInput     = "INVALID_INPUT"
	codeSessionBusy      = "SESSION_BUSY"
	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type assistant interface {
	Submit(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	Status(ctx context.Context) usecase.ConfigurationStatus
}

type sessions interface {
	Start(ctx context.Context) (string, usecase.Entry, error)
	Send(ctx context.Context, id, message string) (domain.ChatResponse, []domain.Message, error)
	History(ctx context.Context, id string) ([]domain.Message, error)
	Reset(ctx context.Context, id string) error
}

type chatRequest struct {
	Message string           `json:"message"`
	History []domain.Message `json:"history,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type sessionMessageRequest struct {
	Message string `json:"message"`
}

type sessionMessageResponse struct {
	Reply   string           `json:"reply"`
	History []domain.Message `json:"history"`
}

type sessionResponse struct {
	SessionID string           `json:"sessionId"`
	History   []domain.Message `json:"history"`
}

type startSessionResponse struct {
	SessionID string        `json:"sessionId"`
	Greeting  usecase.Entry `json:"greeting"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the assistant over API Gateway proxy events.
type Handler struct {
	assistant        assistant
	sessions         sessions
	maxMessageLength int
}

func NewHandler(a assistant, s sessions, maxMessageLength int) (*Handler, error) {
	if a == nil {
		return nil, errors.New("handler: assistant must not be nil")
	}
	if s == nil {
		return nil, errors.New("handler: sessions must not be nil")
	}
	if maxMessageLength <= 0 {
		return nil, errors.New("handler: max message length must be positive")
	}
	return &Handler{assistant: a, sessions: s, maxMessageLength: maxMessageLength}, nil
}

// Handle routes one request. Errors are always rendered as responses; the
// returned error is reserved for the Lambda runtime and is always nil.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)

	resp := h.route(ctx, event)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID

	observability.LoggerFromContext(ctx).Info("request completed",
		"method", event.HTTPMethod,
		"path", event.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	segments := pathSegments(event.Path)
	method := strings.ToUpper(event.HTTPMethod)

	switch {
	case len(segments) == 1 && segments[0] == "chat":
		if method != http.MethodPost {
			return methodNotAllowed(http.MethodPost)
		}
		return h.chat(ctx, event.Body)

	case len(segments) == 1 && segments[0] == "status":
		if method != http.MethodGet {
			return methodNotAllowed(http.MethodGet)
		}
		return jsonResponse(http.StatusOK, h.assistant.Status(ctx))

	case len(segments) == 1 && segments[0] == "sessions":
		if method != http.MethodPost {
			return methodNotAllowed(http.MethodPost)
		}
		return h.startSession(ctx)

	case len(segments) == 2 && segments[0] == "sessions":
		switch method {
		case http.MethodGet:
			return h.sessionHistory(ctx, segments[1])
		case http.MethodDelete:
			return h.resetSession(ctx, segments[1])
		default:
			return methodNotAllowed(http.MethodGet + ", " + http.MethodDelete)
		}

	case len(segments) == 3 && segments[0] == "sessions" && segments[2] == "messages":
		if method != http.MethodPost {
			return methodNotAllowed(http.MethodPost)
		}
		return h.sessionMessage(ctx, segments[1], event.Body)
	}
	return errorJSON(http.StatusNotFound, codeNotFound, "route not found")
}

func (h *Handler) chat(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, codeInvalidInput, "request body must be valid JSON")
	}
	if resp, ok := h.checkMessage(req.Message); !ok {
		return resp
	}
	out, err := h.assistant.Submit(ctx, domain.ChatRequest{Message: req.Message, History: req.History})
	if err != nil {
		return errorFrom(ctx, err)
	}
	return jsonResponse(http.StatusOK, chatResponse{Reply: out.Reply})
}

func (h *Handler) startSession(ctx context.Context) events.APIGatewayProxyResponse {
	id, greeting, err := h.sessions.Start(ctx)
	if err != nil {
		return errorFrom(ctx, err)
	}
	return jsonResponse(http.StatusCreated, startSessionResponse{SessionID: id, Greeting: greeting})
}

func (h *Handler) sessionMessage(ctx context.Context, id, body string) events.APIGatewayProxyResponse {
	var req sessionMessageRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, codeInvalidInput, "request body must be valid JSON")
	}
	if resp, ok := h.checkMessage(req.Message); !ok {
		return resp
	}
	out, history, err := h.sessions.Send(ctx, id, req.Message)
	if err != nil {
		return errorFrom(ctx, err)
	}
	return jsonResponse(http.StatusOK, sessionMessageResponse{Reply: out.Reply, History: nonNil(history)})
}

func (h *Handler) sessionHistory(ctx context.Context, id string) events.APIGatewayProxyResponse {
	history, err := h.sessions.History(ctx, id)
	if err != nil {
		return errorFrom(ctx, err)
	}
	return jsonResponse(http.StatusOK, sessionResponse{SessionID: id, History: nonNil(history)})
}

func (h *Handler) resetSession(ctx context.Context, id string) events.APIGatewayProxyResponse {
	if err := h.sessions.Reset(ctx, id); err != nil {
		return errorFrom(ctx, err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: map[string]string{}}
}

func (h *Handler) checkMessage(message string) (events.APIGatewayProxyResponse, bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return errorJSON(http.StatusBadRequest, codeInvalidInput, "message must not be empty"), false
	}
	if utf8.RuneCountInString(message) > h.maxMessageLength {
		return errorJSON(http.StatusBadRequest, codeInvalidInput, "message is too long"), false
	}
	return events.APIGatewayProxyResponse{}, true
}

var kindStatus = map[usecase.ErrorKind]int{
	usecase.KindConfiguration:    http.StatusServiceUnavailable,
	usecase.KindAuthentication:   http.StatusBadGateway,
	usecase.KindModelUnavailable: http.StatusBadGateway,
	usecase.KindValidation:       http.StatusBadGateway,
	usecase.KindQuotaExceeded:    http.StatusTooManyRequests,
	usecase.KindUnknown:          http.StatusInternalServerError,
}

func errorFrom(ctx context.Context, err error) events.APIGatewayProxyResponse {
	switch {
	case errors.Is(err, usecase.ErrEmptyMessage):
		return errorJSON(http.StatusBadRequest, codeInvalidInput, "message must not be empty")
	case errors.Is(err, usecase.ErrInvalidSessionID):
		return errorJSON(http.StatusBadRequest, codeInvalidInput, "invalid session id")
	case errors.Is(err, usecase.ErrRequestInFlight):
		return errorJSON(http.StatusConflict, codeSessionBusy, "a request is already in flight for this session")
	}

	var derr *usecase.DomainError
	if !errors.As(err, &derr) {
		// Store and wiring failures never carry a provider kind.
		observability.LoggerFromContext(ctx).Error("request failed", "err", err)
		derr = &usecase.DomainError{Kind: usecase.KindUnknown, Message: usecase.UserMessage(usecase.KindUnknown), Err: err}
	}
	status, ok := kindStatus[derr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return errorJSON(status, string(derr.Kind), derr.Message)
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func nonNil(h []domain.Message) []domain.Message {
	if h == nil {
		return []domain.Message{}
	}
	return h
}

func methodNotAllowed(allow string) events.APIGatewayProxyResponse {
	resp := errorJSON(http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	resp.Headers["Allow"] = allow
	return resp
}

func errorJSON(status int, code, message string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Message: message})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"UnknownError","message":"failed to encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
