package session

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingStore wraps a Store and logs write failures once per operation.
// Callers treat history as best effort and keep going.
type LoggingStore struct {
	Store
	logger *slog.Logger
	mu     sync.Mutex
	warned map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, logger *slog.Logger) *LoggingStore {
	return &LoggingStore{
		Store:  store,
		logger: logger,
		warned: make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil || s.logger == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn("history write failed", "op", op, "error", err)
}

// Create wraps Store.Create with error logging.
func (s *LoggingStore) Create(ctx context.Context, sess *Session) error {
	err := s.Store.Create(ctx, sess)
	s.logOnce("Create", err)
	return err
}

// AddMessage wraps Store.AddMessage with error logging.
func (s *LoggingStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	err := s.Store.AddMessage(ctx, sessionID, msg)
	s.logOnce("AddMessage", err)
	return err
}

// SaveDocument wraps Store.SaveDocument with error logging.
func (s *LoggingStore) SaveDocument(ctx context.Context, doc *Document) error {
	err := s.Store.SaveDocument(ctx, doc)
	s.logOnce("SaveDocument", err)
	return err
}
