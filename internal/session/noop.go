package session

import "context"

// NoopStore is a no-op implementation of Store used when history is disabled.
// It silently discards all writes and returns empty results for reads;
// deletes report ErrNotFound since nothing is ever stored.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Session, error) {
	return nil, nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return ErrNotFound
}

func (s *NoopStore) List(ctx context.Context, limit int) ([]SessionSummary, error) {
	return nil, nil
}

func (s *NoopStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	return nil
}

func (s *NoopStore) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	return nil, nil
}

func (s *NoopStore) SaveDocument(ctx context.Context, doc *Document) error {
	return nil
}

func (s *NoopStore) ListDocuments(ctx context.Context) ([]Document, error) {
	return nil, nil
}

func (s *NoopStore) DeleteDocument(ctx context.Context, id string) error {
	return ErrNotFound
}

func (s *NoopStore) Close() error {
	return nil
}
