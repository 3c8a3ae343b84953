package domain

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the canonical conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single conversation turn as seen by callers and stores.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the caller-facing submit payload.
type ChatRequest struct {
	Message string    `json:"message"`
	History []Message `json:"history,omitempty"`
}

// ChatResponse is the caller-facing reply.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// CloneHistory returns a copy of h that callers may append to freely.
func CloneHistory(h []Message) []Message {
	out := make([]Message, len(h))
	copy(out, h)
	return out
}
