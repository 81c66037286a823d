package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/chat"
	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/jonbmost/acquisition-assistant/internal/formatter"
	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/prompt"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/jonbmost/acquisition-assistant/internal/tasks"
)

// maxUploadBytes bounds knowledge-base uploads and chat attachments.
const maxUploadBytes = 10 << 20

type chatAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID  string          `json:"sessionId"`
	Message    string          `json:"message"`
	Attachment *chatAttachment `json:"attachment,omitempty"`
}

func (s *serveServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, chat.ErrEmptyInput.Error())
		return
	}

	sess, err := s.chats.GetOrCreate(ctx, strings.TrimSpace(req.SessionID))
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	w.Header().Set("X-Session-ID", sess.ID())

	sendReq := chat.SendRequest{Input: req.Message}
	if req.Attachment != nil && strings.TrimSpace(req.Attachment.Content) != "" {
		sendReq.Attachment = &prompt.Document{Name: req.Attachment.Name, Content: req.Attachment.Content}
	}

	// Headers are committed on the first chunk so a busy session can still
	// be answered with 409.
	var out *stream.Writer
	begin := func() {
		if out != nil {
			return
		}
		w.Header().Set("Content-Type", stream.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		out = stream.NewWriter(w)
	}

	_, err = sess.Send(ctx, sendReq, func(c stream.Chunk) error {
		begin()
		return out.WriteChunk(c)
	})
	if err != nil && out == nil {
		s.writeChatError(w, err)
		return
	}
	begin()
}

func (s *serveServer) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// findSession resolves the {id} path value to a live or stored session,
// writing a 404 when there is none.
func (s *serveServer) findSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	sess, err := s.chats.Find(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("session lookup failed", "session", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return sess, true
}

type messageView struct {
	chat.Message
	HTML string `json:"html"`
}

func (s *serveServer) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	sess, ok := s.findSession(w, r)
	if !ok {
		return
	}
	msgs := sess.Messages()
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{Message: m, HTML: formatter.DisplayHTML(m.Text)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID(),
		"busy":      sess.Busy(),
		"messages":  views,
	})
}

func (s *serveServer) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	sess, ok := s.findSession(w, r)
	if !ok {
		return
	}
	body := sess.Transcript()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", attachmentDisposition(export.TranscriptFileName(time.Now())))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = io.WriteString(w, body)
}

func (s *serveServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, "DELETE")
		return
	}
	id := r.PathValue("id")
	if err := s.chats.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("delete session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportRequest struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Title     string `json:"title"`
	Heading   string `json:"heading"`
}

func (s *serveServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	format, err := export.ParseFormat(r.PathValue("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	var req exportRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	guard := &s.exportGuard
	text := req.Text
	if req.SessionID != "" {
		sess, err := s.chats.Find(r.Context(), req.SessionID)
		switch {
		case err == nil:
			guard = sess.ExportGuard()
			if req.MessageID != "" {
				m, ok := sess.Message(req.MessageID)
				if !ok {
					writeError(w, http.StatusNotFound, "message not found")
					return
				}
				text = m.Text
			}
		case req.MessageID != "":
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
	}

	doc := export.Document{Text: text, Title: req.Title, Heading: req.Heading}
	res, err := s.exporter.Export(r.Context(), guard, format, doc, req.Title)
	if err != nil {
		if errors.Is(err, export.ErrInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("export failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Skipped {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", attachmentDisposition(res.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}

type documentView struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Title  string           `json:"title"`
	Source knowledge.Source `json:"source"`
	Size   int              `json:"size"`
	Added  *time.Time       `json:"added,omitempty"`
}

func newDocumentView(d knowledge.Document) documentView {
	v := documentView{ID: d.ID, Name: d.Name, Title: d.Title(), Source: d.Source, Size: len(d.Content)}
	if !d.Added.IsZero() {
		added := d.Added
		v.Added = &added
	}
	return v
}

func (s *serveServer) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs := s.kb.All()
		views := make([]documentView, 0, len(docs))
		for _, d := range docs {
			views = append(views, newDocumentView(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": views})
	case http.MethodPost:
		doc, ok := s.readUpload(w, r)
		if !ok {
			return
		}
		if err := s.store.SaveDocument(r.Context(), &session.Document{
			ID:        doc.ID,
			Name:      doc.Name,
			Content:   doc.Content,
			CreatedAt: doc.Added,
		}); err != nil {
			// Already logged by the store; the upload still lives for this process.
			s.logger.Debug("upload not persisted", "name", doc.Name, "error", err)
		}
		s.kb.Add(doc)
		s.logger.Info("knowledge document added", "name", doc.Name, "chars", len(doc.Content))
		writeJSON(w, http.StatusCreated, newDocumentView(doc))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// handleKnowledgeParse extracts an attachment's text for a single chat turn
// without adding it to the knowledge base.
func (s *serveServer) handleKnowledgeParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	doc, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": doc.Name, "content": doc.Content})
}

func (s *serveServer) readUpload(w http.ResponseWriter, r *http.Request) (knowledge.Document, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file is required: %v", err))
		return knowledge.Document{}, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return knowledge.Document{}, false
	}
	doc, err := knowledge.ReadUpload(header.Filename, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, knowledge.ErrUnsupportedType) {
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, err.Error())
		return knowledge.Document{}, false
	}
	return doc, true
}

func (s *serveServer) handleKnowledgeDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, "DELETE")
		return
	}
	id := r.PathValue("id")
	if err := s.kb.Remove(id); err != nil {
		switch {
		case errors.Is(err, knowledge.ErrReadOnly):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, knowledge.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if err := s.store.DeleteDocument(r.Context(), id); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("failed to delete stored document", "id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serveServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.tasks.Tasks()})
}

func (s *serveServer) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	vars := map[string]string{}
	if err := decodeJSONBody(r, &vars); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := r.PathValue("name")
	res, err := s.tasks.Run(ctx, name, vars)
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrUnknown):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, tasks.ErrMissingInput):
			writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), tasks.ErrMissingInput.Error()+": "))
		default:
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error": "An error occurred: " + err.Error(),
				"task":  name,
				"text":  res.Text,
			})
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func attachmentDisposition(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
