package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Schema for the history database.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    summary TEXT,
    provider TEXT NOT NULL,
    model TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'model')),
    text TEXT NOT NULL,
    attachment TEXT,
    citations TEXT,
    failed BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_sequence ON messages(session_id, sequence);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewSQLiteStore opens (creating if needed) the history database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		p, err := GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
		dbPath = p
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// schemaVersion is the current schema version.
// Increment when adding new migrations.
const schemaVersion = 2

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations upgrade databases created before a schema change.
// The `schema` const always holds the full current schema.
var migrations = []migration{
	{
		version:     1,
		description: "add attachment and failed columns to messages",
		up: func(db *sql.DB) error {
			for _, stmt := range []string{
				"ALTER TABLE messages ADD COLUMN attachment TEXT",
				"ALTER TABLE messages ADD COLUMN failed BOOLEAN DEFAULT FALSE",
			} {
				if _, err := db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     2,
		description: "add documents table",
		up: func(db *sql.DB) error {
			_, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`)
			return err
		},
	},
}

// initSchema is a single SELECT when the schema is already current.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	if versionErr != nil && !errors.Is(versionErr, sql.ErrNoRows) && !strings.Contains(versionErr.Error(), "no such table") {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	if versionErr != nil {
		// No version row: a pre-migration database already has a sessions table.
		var tableCount int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&tableCount)
		if err != nil {
			return fmt.Errorf("check sessions table: %w", err)
		}
		currentVersion = schemaVersion
		if tableCount > 0 {
			currentVersion = 0
		}
	}

	// Base schema uses IF NOT EXISTS, so it is safe on old databases too.
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}

	if _, err := db.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// Create inserts a new session, assigning an ID and timestamps when unset.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, summary, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.Summary), sess.Provider, nullString(sess.Model), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a session by ID, or nil when it does not exist.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var summary, model sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, summary, provider, model, created_at, updated_at
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &summary, &sess.Provider, &model, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Summary = summary.String
	sess.Model = model.String
	return &sess, nil
}

// Delete removes a session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns sessions, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.summary, s.provider, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		var summary, model sql.NullString
		if err := rows.Scan(&ss.ID, &summary, &ss.Provider, &model, &ss.CreatedAt, &ss.UpdatedAt, &ss.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.Summary = summary.String
		ss.Model = model.String
		out = append(out, ss)
	}
	return out, rows.Err()
}

// AddMessage appends a message to a session. The first user message becomes
// the session summary.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	var citations sql.NullString
	if len(msg.Citations) > 0 {
		data, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("encode citations: %w", err)
		}
		citations = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.Sequence < 0 {
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, "SELECT MAX(sequence) FROM messages WHERE session_id = ?", sessionID).Scan(&maxSeq); err != nil {
			return fmt.Errorf("get next sequence: %w", err)
		}
		msg.Sequence = 0
		if maxSeq.Valid {
			msg.Sequence = int(maxSeq.Int64) + 1
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = sessionID

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, text, attachment, citations, failed, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Text, nullString(msg.Attachment), citations, msg.Failed, msg.CreatedAt, msg.Sequence)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get message id: %w", err)
	}
	msg.ID = id

	if msg.Role == RoleUser {
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET updated_at = ?, summary = COALESCE(NULLIF(summary, ''), ?)
			WHERE id = ?`, msg.CreatedAt, TruncateSummary(msg.Text), sessionID)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", msg.CreatedAt, sessionID)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return tx.Commit()
}

// GetMessages returns a session's messages in sequence order.
// A limit of 0 returns all messages.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT id, session_id, role, text, attachment, citations, failed, created_at, sequence
		FROM messages WHERE session_id = ?
		ORDER BY sequence ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		var attachment, citations sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Text, &attachment, &citations, &m.Failed, &m.CreatedAt, &m.Sequence); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		m.Attachment = attachment.String
		if citations.Valid && citations.String != "" {
			var cs []stream.Citation
			if err := json.Unmarshal([]byte(citations.String), &cs); err != nil {
				return nil, fmt.Errorf("decode citations: %w", err)
			}
			m.Citations = cs
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveDocument inserts or replaces an uploaded document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = NewID()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, content, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, content = excluded.content`,
		doc.ID, doc.Name, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// ListDocuments returns uploaded documents in upload order.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, content, created_at FROM documents ORDER BY created_at ASC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Name, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes an uploaded document.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
