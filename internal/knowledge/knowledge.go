// Package knowledge holds the reference documents the assistant uses as
// context: templates shipped in the repository plus user uploads.
package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrReadOnly        = errors.New("repository documents cannot be removed")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// LoadPattern selects repository documents.
const LoadPattern = "**/*.{md,txt}"

// Source says where a document came from.
type Source string

const (
	SourceRepository Source = "repository"
	SourceUpload     Source = "upload"
)

// Document is one knowledge-base entry.
type Document struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Path    string    `json:"path,omitempty"`
	Content string    `json:"content,omitempty"`
	Source  Source    `json:"source"`
	Added   time.Time `json:"added"`
}

// Title is the file name without extension.
func (d Document) Title() string {
	return strings.TrimSuffix(d.Name, path.Ext(d.Name))
}

// LoadDir reads every markdown and text file under dir. A missing directory
// yields no documents.
func LoadDir(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads documents matching LoadPattern from fsys, skipping hidden
// files and directories.
func LoadFS(fsys fs.FS) ([]Document, error) {
	var docs []Document
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		matched, err := doublestar.Match(LoadPattern, p)
		if err != nil || !matched {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		docs = append(docs, Document{
			ID:      "repo-" + p,
			Name:    path.Base(p),
			Path:    p,
			Content: string(data),
			Source:  SourceRepository,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ReadUpload extracts text from an uploaded file. Plain text and markdown
// are taken as-is; .docx text is read from the document body.
func ReadUpload(name string, data []byte) (Document, error) {
	var content string
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".md", ".markdown":
		content = string(data)
	case ".docx":
		text, err := DocxText(data)
		if err != nil {
			return Document{}, fmt.Errorf("read %s: %w", name, err)
		}
		content = text
	default:
		return Document{}, fmt.Errorf("%s: %w", name, ErrUnsupportedType)
	}
	return Document{
		ID:      uuid.NewString(),
		Name:    path.Base(name),
		Content: content,
		Source:  SourceUpload,
		Added:   time.Now().UTC(),
	}, nil
}

// Match is a search hit in one document.
type Match struct {
	File  string
	Lines []string
}

// MaxMatchesPerFile caps the lines reported for one document.
const MaxMatchesPerFile = 5

// Base is the in-memory knowledge base. It is safe for concurrent use.
type Base struct {
	mu   sync.RWMutex
	docs []Document
}

// NewBase returns a base seeded with docs.
func NewBase(docs []Document) *Base {
	b := &Base{}
	b.docs = append(b.docs, docs...)
	return b
}

// All returns every document in insertion order.
func (b *Base) All() []Document {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Document, len(b.docs))
	copy(out, b.docs)
	return out
}

// Add appends an uploaded document.
func (b *Base) Add(doc Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, doc)
}

// Remove deletes an uploaded document by ID.
func (b *Base) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.docs {
		if d.ID != id {
			continue
		}
		if d.Source == SourceRepository {
			return ErrReadOnly
		}
		b.docs = append(b.docs[:i], b.docs[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// Lookup finds a document by file name or title, ignoring case.
func (b *Base) Lookup(name string) (Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name = strings.TrimSpace(name)
	for _, d := range b.docs {
		if strings.EqualFold(d.Name, name) || strings.EqualFold(d.Title(), name) {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Search returns, per document, up to MaxMatchesPerFile trimmed lines that
// contain query case-insensitively.
func (b *Base) Search(query string) []Match {
	q := strings.ToLower(query)
	var out []Match
	for _, d := range b.All() {
		var lines []string
		for _, line := range strings.Split(d.Content, "\n") {
			if strings.Contains(strings.ToLower(line), q) {
				lines = append(lines, strings.TrimSpace(line))
				if len(lines) == MaxMatchesPerFile {
					break
				}
			}
		}
		if len(lines) > 0 {
			out = append(out, Match{File: d.Title(), Lines: lines})
		}
	}
	return out
}

// Templates lists repository markdown documents.
func (b *Base) Templates() []Document {
	var out []Document
	for _, d := range b.All() {
		if d.Source == SourceRepository && strings.EqualFold(path.Ext(d.Name), ".md") {
			out = append(out, d)
		}
	}
	return out
}
