// Package domain defines the core domain models for the chat relay.
package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the known message roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single message within a session. Messages are immutable once a
// turn has completed; the in-flight assistant message is appended to until the
// stream finishes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a persisted conversation. Message order is chronological turn
// order.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	OwnerID   string    `json:"ownerId,omitempty"`
}

// SessionUpdate is a partial update applied to a session. Nil fields are left
// untouched; a non-nil Messages pointer replaces the message list wholesale.
type SessionUpdate struct {
	Title    *string
	Messages *[]Message
}

// StreamFragment is one frame of the chat stream wire protocol. A fragment
// carries either incremental content, a terminal error, or the Done sentinel
// (serialized as the literal [DONE] marker, not as JSON).
type StreamFragment struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Done    bool   `json:"-"`
}

// FragmentStream is an ordered, pull-based sequence of stream fragments.
// Recv returns io.EOF after the terminal fragment has been delivered.
// Close releases the underlying provider stream and is safe to call twice.
type FragmentStream interface {
	Recv() (StreamFragment, error)
	Close() error
}

// SeedMessage is the optional first message supplied at session creation.
type SeedMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Title        string       `json:"title"`
	FirstMessage *SeedMessage `json:"firstMessage,omitempty"`
}

// UpdateSessionRequest is the body of PATCH /sessions/:id.
type UpdateSessionRequest struct {
	Title    *string    `json:"title,omitempty"`
	Messages *[]Message `json:"messages,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message"`
	History   []Message `json:"history"`
}

// VerifyRequest is the body of POST /sessions/verify.
type VerifyRequest struct {
	SessionID string `json:"sessionId"`
}

// VerifyResult reports whether a session is currently readable.
type VerifyResult struct {
	Exists        bool     `json:"exists"`
	Session       *Session `json:"session"`
	TotalSessions int      `json:"totalSessions"`
}
