// Package chat runs conversational turns against an LLM provider, one send
// at a time per session.
package chat

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/prompt"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
)

var (
	// ErrBusy is returned when a send is already in flight for the session.
	ErrBusy = errors.New("session is busy processing another request")
	// ErrEmptyInput is returned when there is nothing to send.
	ErrEmptyInput = errors.New("message is empty")
	// ErrClosed is returned once the manager has shut down.
	ErrClosed = errors.New("session manager closed")
)

// ErrorPrefix starts the visible text of a reply that failed before
// producing any output.
const ErrorPrefix = "Sorry, I encountered an error. "

// Message is one turn as shown to the user.
type Message struct {
	ID        string            `json:"id"`
	Role      session.Role      `json:"role"`
	Text      string            `json:"text"`
	FileName  string            `json:"fileName,omitempty"`
	Sources   []stream.Citation `json:"sources,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Options are shared by every session a Manager creates.
type Options struct {
	Provider llm.Provider
	Model    string
	// System is the rendered system instruction.
	System          string
	MaxOutputTokens int
	// Knowledge is prepended to every user request. May be nil.
	Knowledge *knowledge.Base
	Builder   prompt.Builder
	// Store persists messages. Nil disables persistence.
	Store  session.Store
	Logger *slog.Logger
}

// SendRequest is one user turn.
type SendRequest struct {
	Input      string
	Attachment *prompt.Document
}

// errorMessage is the user-facing description of a failed send.
func errorMessage(err error) string {
	msg := "Please try again."
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return "An error occurred: " + msg
}
