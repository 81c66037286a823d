package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
)

// Role is who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Session is one conversation with the assistant.
type Session struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary,omitempty"` // First user message
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted turn. Failed marks a model reply that ended
// before the stream closed normally.
type Message struct {
	ID         int64             `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       Role              `json:"role"`
	Text       string            `json:"text"`
	Attachment string            `json:"attachment,omitempty"`
	Citations  []stream.Citation `json:"citations,omitempty"`
	Failed     bool              `json:"failed,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Sequence   int               `json:"sequence"`
}

// Document is an uploaded knowledge-base document kept across restarts.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if r := []rune(content); len(r) > 100 {
		content = string(r[:97]) + "..."
	}
	return content
}
