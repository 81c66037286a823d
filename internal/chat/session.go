package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/prompt"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
)

// Session is one conversation. Send is serialized by a busy flag; callers
// that lose the race get ErrBusy instead of waiting.
type Session struct {
	id   string
	opts *Options

	busy     sync.Mutex
	inFlight atomic.Bool

	mu       sync.RWMutex
	messages []Message

	guard            export.Guard
	lastUsedUnixNano atomic.Int64
}

func newSession(id string, opts *Options, history []Message) *Session {
	s := &Session{id: id, opts: opts, messages: history}
	s.Touch()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.lastUsedUnixNano.Store(time.Now().UnixNano())
}

// LastUsed returns when the session was last touched.
func (s *Session) LastUsed() time.Time {
	unixNano := s.lastUsedUnixNano.Load()
	if unixNano == 0 {
		return time.Time{}
	}
	return time.Unix(0, unixNano)
}

// Busy reports whether a send is in flight.
func (s *Session) Busy() bool {
	return s.inFlight.Load()
}

// ExportGuard is the session's export-in-progress flag.
func (s *Session) ExportGuard() *export.Guard { return &s.guard }

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Message looks up a message by ID.
func (s *Session) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Transcript renders the conversation as a plain-text history.
func (s *Session) Transcript() string {
	msgs := s.Messages()
	entries := make([]export.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, export.TranscriptEntry{
			Role:       string(m.Role),
			Time:       m.CreatedAt,
			Attachment: m.FileName,
			Text:       m.Text,
			Citations:  m.Sources,
		})
	}
	return export.Transcript(entries)
}

// Send runs one turn. Each text delta and citation batch is passed to emit
// as it arrives; on failure a terminal error chunk is emitted. The returned
// model message keeps any partial output alongside the error.
func (s *Session) Send(ctx context.Context, req SendRequest, emit func(stream.Chunk) error) (Message, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return Message{}, ErrEmptyInput
	}
	if !s.busy.TryLock() {
		return Message{}, ErrBusy
	}
	defer s.busy.Unlock()
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)
	s.Touch()
	if emit == nil {
		emit = func(stream.Chunk) error { return nil }
	}

	logger := s.opts.Logger.With("session", s.id)
	history := s.Messages()

	user := Message{
		ID:        uuid.NewString(),
		Role:      session.RoleUser,
		Text:      input,
		CreatedAt: time.Now(),
	}
	if req.Attachment != nil {
		user.FileName = req.Attachment.Name
	}
	s.append(user)
	s.persist(ctx, user)

	llmReq := llm.Request{
		Model:           s.opts.Model,
		System:          s.opts.System,
		Messages:        s.requestMessages(history, input, req.Attachment),
		Search:          true,
		MaxOutputTokens: s.opts.MaxOutputTokens,
	}

	agg := stream.NewAggregator()
	start := time.Now()
	err := llm.Drain(ctx, s.opts.Provider, llmReq, func(ev llm.Event) error {
		switch ev.Type {
		case llm.EventTextDelta:
			if ev.Text == "" {
				return nil
			}
			agg.Apply(stream.Chunk{Text: ev.Text})
			return emit(stream.Chunk{Text: ev.Text})
		case llm.EventCitations:
			agg.AddCitations(ev.Citations)
			return emit(stream.Chunk{Citations: ev.Citations})
		case llm.EventRetry:
			logger.Info("retrying upstream", "attempt", ev.RetryAttempt, "max_attempts", ev.RetryMaxAttempts, "wait_secs", ev.RetryWaitSecs)
		}
		return nil
	})

	reply := Message{
		ID:        uuid.NewString(),
		Role:      session.RoleModel,
		CreatedAt: time.Now(),
	}
	if err != nil {
		agg.Fail()
	} else {
		agg.Close()
	}
	snap := agg.Snapshot()
	reply.Text = llm.SanitizeAnswer(snap.Text)
	reply.Sources = snap.Citations

	if err != nil {
		reply.Error = errorMessage(err)
		if reply.Text == "" {
			reply.Text = ErrorPrefix + reply.Error
		}
		logger.Error("send failed", "error", err, "partial_chars", len(snap.Text))
		if emitErr := emit(stream.Chunk{Err: reply.Error}); emitErr != nil {
			logger.Debug("emit error chunk", "error", emitErr)
		}
	} else {
		logger.Info("send complete", "chars", len(reply.Text), "citations", len(reply.Sources), "elapsed", time.Since(start))
	}

	s.append(reply)
	s.persist(context.WithoutCancel(ctx), reply)
	return reply, err
}

// requestMessages replays earlier turns as plain text and sends the current
// turn with the knowledge base and attachment inlined.
func (s *Session) requestMessages(history []Message, input string, att *prompt.Document) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Error != "" && m.Role == session.RoleModel && strings.HasPrefix(m.Text, ErrorPrefix) {
			continue
		}
		if m.Role == session.RoleModel {
			msgs = append(msgs, llm.AssistantText(m.Text))
		} else {
			msgs = append(msgs, llm.UserText(m.Text))
		}
	}
	var kb []prompt.Document
	if s.opts.Knowledge != nil {
		for _, d := range s.opts.Knowledge.All() {
			kb = append(kb, prompt.Document{Name: d.Name, Content: d.Content})
		}
	}
	return append(msgs, llm.UserText(s.opts.Builder.UserPrompt(input, kb, att)))
}

func (s *Session) append(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

func (s *Session) persist(ctx context.Context, m Message) {
	if s.opts.Store == nil {
		return
	}
	rec := &session.Message{
		Role:       m.Role,
		Text:       m.Text,
		Attachment: m.FileName,
		Citations:  m.Sources,
		Failed:     m.Error != "",
		CreatedAt:  m.CreatedAt,
		Sequence:   -1,
	}
	if err := s.opts.Store.AddMessage(ctx, s.id, rec); err != nil {
		s.opts.Logger.Debug("persist message", "session", s.id, "error", err)
	}
}

// fromRecords rebuilds in-memory history from stored messages.
func fromRecords(recs []session.Message) []Message {
	out := make([]Message, 0, len(recs))
	for _, r := range recs {
		m := Message{
			ID:        uuid.NewString(),
			Role:      r.Role,
			Text:      r.Text,
			FileName:  r.Attachment,
			Sources:   r.Citations,
			CreatedAt: r.CreatedAt,
		}
		if r.Failed {
			m.Error = "An error occurred: response incomplete"
		}
		out = append(out, m)
	}
	return out
}
