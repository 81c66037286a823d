package session

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/jonbmost/acquisition-assistant/internal/config"
)

// ErrNotFound is returned for unknown sessions or documents.
var ErrNotFound = errors.New("not found")

// Store is the interface for conversation persistence.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]SessionSummary, error)

	// AddMessage allocates the next sequence number when msg.Sequence < 0.
	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)

	SaveDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	Close() error
}

// Config holds history storage configuration.
type Config struct {
	Enabled bool
	Path    string // empty = history.db in the XDG data dir
}

// GetDBPath returns the default path of the history database.
func GetDBPath() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "history.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If history is disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
