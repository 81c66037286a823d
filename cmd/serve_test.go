package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/chat"
	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/jonbmost/acquisition-assistant/internal/tasks"
	"github.com/jonbmost/acquisition-assistant/internal/testutil"
)

func newTestServeServer(t *testing.T, provider *testutil.MockProvider) *serveServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kb := knowledge.NewBase([]knowledge.Document{
		{ID: "repo-FAR-Quick-Reference.md", Name: "FAR-Quick-Reference.md", Content: "FAR Part 12", Source: knowledge.SourceRepository},
	})
	store := &session.NoopStore{}
	chats := chat.NewManager(chat.Options{
		Provider:  provider,
		Model:     "mock-model",
		System:    "system",
		Knowledge: kb,
		Store:     store,
		Logger:    logger,
	}, time.Hour, 10)
	t.Cleanup(chats.Close)

	runner, err := tasks.NewRunner(provider, "mock-model", 100, logger)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return &serveServer{
		chats:    chats,
		kb:       kb,
		store:    store,
		exporter: export.NewService(export.DefaultPDFOptions()),
		tasks:    runner,
		logger:   logger,
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeLines(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad ndjson line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestServeAuthMiddleware(t *testing.T) {
	s := &serveServer{cfg: serveServerConfig{requireAuth: true, token: "secret"}}
	h := s.auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/knowledge", nil)
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/knowledge", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/knowledge", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/knowledge", nil)
	rr = httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("OPTIONS status = %d, want pass-through 200", rr.Code)
	}
}

func TestServeCORS(t *testing.T) {
	s := &serveServer{cfg: serveServerConfig{corsOrigins: []string{"https://app.example"}}}
	h := s.cors(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestServeHealth(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	for _, path := range []string{"/health", "/api/health"} {
		rr := httptest.NewRecorder()
		s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true || body["timestamp"] == "" {
			t.Fatalf("%s body = %v", path, body)
		}
	}
}

func TestServeUI(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Acquisition Assistant") {
		t.Fatalf("UI not served")
	}
}

func TestServeChatStreamsNDJSON(t *testing.T) {
	p := testutil.NewMockProvider("mock").AddTurn(testutil.MockTurn{
		Chunks:    []string{"Use ", "FAR Part 12."},
		Citations: []stream.Citation{{URI: "https://acquisition.gov", Title: "FAR"}},
	})
	s := newTestServeServer(t, p)
	h := s.routes()

	rr := postJSON(t, h, "/api/chat", map[string]any{"message": "Which FAR part covers commercial items?"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != stream.ContentType {
		t.Fatalf("content type = %q", ct)
	}
	id := rr.Header().Get("X-Session-ID")
	if id == "" {
		t.Fatalf("missing X-Session-ID")
	}

	lines := decodeLines(t, rr.Body.String())
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %s", len(lines), rr.Body.String())
	}
	if lines[0]["text"] != "Use " || lines[1]["text"] != "FAR Part 12." {
		t.Fatalf("unexpected text lines: %v", lines)
	}
	if _, ok := lines[2]["groundingMetadata"]; !ok {
		t.Fatalf("citations line missing groundingMetadata: %v", lines[2])
	}

	// The streamed body is what the Reader consumes on the client side.
	snap, err := stream.NewReader(stream.NDJSON{}, nil).Consume(context.Background(), strings.NewReader(rr.Body.String()), nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if snap.Text != "Use FAR Part 12." || len(snap.Citations) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/messages", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rr.Code)
	}
	var body struct {
		SessionID string `json:"sessionId"`
		Messages  []struct {
			Role string `json:"role"`
			Text string `json:"text"`
			HTML string `json:"html"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if body.SessionID != id || len(body.Messages) != 2 {
		t.Fatalf("messages body = %+v", body)
	}
	if body.Messages[1].Role != "model" || !strings.Contains(body.Messages[1].HTML, "<p>") {
		t.Fatalf("model message = %+v", body.Messages[1])
	}
}

func TestServeChatValidation(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	h := s.routes()

	rr := postJSON(t, h, "/api/chat", map[string]any{"message": "   "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("missing content type status = %d, want 415", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rr.Code)
	}
}

func TestServeChatRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	p := testutil.NewMockProvider("mock").AddTurn(testutil.MockTurn{Block: release})
	s := newTestServeServer(t, p)
	h := s.routes()

	var wg sync.WaitGroup
	wg.Add(1)
	first := httptest.NewRecorder()
	go func() {
		defer wg.Done()
		b, _ := json.Marshal(map[string]any{"sessionId": "s1", "message": "first"})
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(first, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if sess, ok := s.chats.Get("s1"); ok && sess.Busy() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first send never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rr := postJSON(t, h, "/api/chat", map[string]any{"sessionId": "s1", "message": "second"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("second send status = %d, want 409", rr.Code)
	}

	close(release)
	wg.Wait()
	if first.Code != http.StatusOK {
		t.Fatalf("first send status = %d", first.Code)
	}
	if got := len(p.Requests); got != 1 {
		t.Fatalf("provider requests = %d, want 1", got)
	}
}

func TestServeChatFailureKeepsPartial(t *testing.T) {
	p := testutil.NewMockProvider("mock").AddTurn(testutil.MockTurn{Chunks: []string{"partial"}, Err: testutil.ErrMock})
	s := newTestServeServer(t, p)

	rr := postJSON(t, s.routes(), "/api/chat", map[string]any{"message": "hi"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	lines := decodeLines(t, rr.Body.String())
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[0]["text"] != "partial" {
		t.Fatalf("first line = %v", lines[0])
	}
	if msg, _ := lines[1]["error"].(string); !strings.Contains(msg, "mock failure") {
		t.Fatalf("error line = %v", lines[1])
	}

	snap, err := stream.NewReader(stream.NDJSON{}, nil).Consume(context.Background(), strings.NewReader(rr.Body.String()), nil)
	if err == nil {
		t.Fatalf("expected in-band error")
	}
	if snap.Text != "partial" || snap.State != stream.StateFailed {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestServeSessionNotFound(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	h := s.routes()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/missing/messages"},
		{http.MethodGet, "/api/sessions/missing/transcript"},
		{http.MethodDelete, "/api/sessions/missing"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d, want 404", tc.method, tc.path, rr.Code)
		}
	}
}

func TestServeTranscriptAndDelete(t *testing.T) {
	p := testutil.NewMockProvider("mock").AddTextResponse("answer")
	s := newTestServeServer(t, p)
	h := s.routes()

	rr := postJSON(t, h, "/api/chat", map[string]any{"message": "question"})
	id := rr.Header().Get("X-Session-ID")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/transcript", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "[USER] - ") || !strings.Contains(body, "[MODEL] - ") || !strings.Contains(body, export.TranscriptSeparator) {
		t.Fatalf("transcript = %q", body)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "AIT_Chat_History_") {
		t.Fatalf("content disposition = %q", cd)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if _, ok := s.chats.Get(id); ok {
		t.Fatalf("session still live after delete")
	}
}

func TestServeExport(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	h := s.routes()

	tests := []struct {
		format   string
		mime     string
		filename string
		magic    string
	}{
		{"txt", "text/plain; charset=utf-8", `"far-summary.txt"`, "# Summary"},
		{"pdf", "application/pdf", `"far-summary.pdf"`, "%PDF"},
		{"docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", `"far-summary.docx"`, "PK"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rr := postJSON(t, h, "/api/export/"+tt.format, map[string]any{
				"text":  "# Summary\n- **FAR** Part 12\n\nDone.",
				"title": "FAR Summary",
			})
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
			if got := rr.Header().Get("Content-Type"); got != tt.mime {
				t.Fatalf("content type = %q, want %q", got, tt.mime)
			}
			if got := rr.Header().Get("Content-Disposition"); !strings.HasSuffix(got, tt.filename) {
				t.Fatalf("content disposition = %q", got)
			}
			if !strings.HasPrefix(rr.Body.String(), tt.magic) {
				t.Fatalf("body does not start with %q", tt.magic)
			}
		})
	}
}

func TestServeExportBlankIsNoop(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	rr := postJSON(t, s.routes(), "/api/export/pdf", map[string]any{"text": "  \n "})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if s.exportGuard.Active() {
		t.Fatalf("export guard still held")
	}
}

func TestServeExportErrors(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	h := s.routes()

	rr := postJSON(t, h, "/api/export/rtf", map[string]any{"text": "x"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad format status = %d, want 400", rr.Code)
	}

	release, ok := s.exportGuard.Begin()
	if !ok {
		t.Fatalf("guard already held")
	}
	rr = postJSON(t, h, "/api/export/txt", map[string]any{"text": "x"})
	release()
	if rr.Code != http.StatusConflict {
		t.Fatalf("concurrent export status = %d, want 409", rr.Code)
	}

	rr = postJSON(t, h, "/api/export/txt", map[string]any{"sessionId": "nope", "messageId": "m1"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing message status = %d, want 404", rr.Code)
	}
}

func TestServeExportSessionMessage(t *testing.T) {
	p := testutil.NewMockProvider("mock").AddTextResponse("Stored answer")
	s := newTestServeServer(t, p)
	h := s.routes()

	rr := postJSON(t, h, "/api/chat", map[string]any{"message": "q"})
	id := rr.Header().Get("X-Session-ID")
	sess, ok := s.chats.Get(id)
	if !ok {
		t.Fatalf("session %s not live", id)
	}
	msgs := sess.Messages()
	modelID := msgs[len(msgs)-1].ID

	rr = postJSON(t, h, "/api/export/txt", map[string]any{"sessionId": id, "messageId": modelID})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "Stored answer" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if sess.ExportGuard().Active() {
		t.Fatalf("session export guard still held")
	}
}

func multipartUpload(t *testing.T, path, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServeKnowledgeLifecycle(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	h := s.routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartUpload(t, "/api/knowledge", "notes.md", "# Notes\nSole source J&A"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "notes.md" || created.Source != "upload" {
		t.Fatalf("created = %+v", created)
	}
	if len(s.kb.All()) != 2 {
		t.Fatalf("kb size = %d, want 2", len(s.kb.All()))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/knowledge", nil))
	if !strings.Contains(rr.Body.String(), `"notes.md"`) {
		t.Fatalf("list = %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/knowledge/repo-FAR-Quick-Reference.md", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("delete repository doc status = %d, want 403", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/knowledge/"+created.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/knowledge/"+created.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestServeKnowledgeParse(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	h := s.routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartUpload(t, "/api/knowledge/parse", "sow.txt", "Statement of work"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["name"] != "sow.txt" || body["content"] != "Statement of work" {
		t.Fatalf("body = %v", body)
	}
	if len(s.kb.All()) != 1 {
		t.Fatalf("parse must not add to the knowledge base")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, multipartUpload(t, "/api/knowledge/parse", "deck.pptx", "x"))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("pptx status = %d, want 415", rr.Code)
	}
}

func TestServeTasks(t *testing.T) {
	p := testutil.NewMockProvider("mock").AddTextResponse("1. Define need")
	s := newTestServeServer(t, p)
	h := s.routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"market-research"`) {
		t.Fatalf("list status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, h, "/api/tasks/sop", map[string]string{"input": "vendor onboarding"})
	if rr.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var res tasks.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Task != "sop" || res.Text != "1. Define need" {
		t.Fatalf("result = %+v", res)
	}

	rr = postJSON(t, h, "/api/tasks/nope", map[string]string{})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown task status = %d, want 404", rr.Code)
	}

	rr = postJSON(t, h, "/api/tasks/document-analysis", map[string]string{"content": "text"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing input status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Please enter a question about the document.") {
		t.Fatalf("missing input body = %s", rr.Body.String())
	}
}

func TestServeRateLimit(t *testing.T) {
	s := newTestServeServer(t, testutil.NewMockProvider("mock"))
	s.limiter = newClientLimiter(2)
	h := s.routes()

	for i := 0; i < 2; i++ {
		rr := postJSON(t, h, "/api/chat", map[string]any{"message": "hi"})
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}
	rr := postJSON(t, h, "/api/chat", map[string]any{"message": "hi"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// Reads are not limited.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rr.Code)
	}
}

func TestClientLimiterPerClient(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newClientLimiter(1)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("first request for a rejected")
	}
	if ok, wait := l.Allow("a"); ok || wait <= 0 {
		t.Fatalf("second request for a allowed (wait %v)", wait)
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatalf("client b shares a's bucket")
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("a not refilled after a minute")
	}
	if newClientLimiter(0) != nil {
		t.Fatalf("0 per minute should disable limiting")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4321"
	if got := clientKey(req); got != "10.0.0.5" {
		t.Fatalf("clientKey = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientKey(req); got != "203.0.113.9" {
		t.Fatalf("clientKey with XFF = %q", got)
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{"127.0.0.1": true, "localhost": true, "::1": true, "0.0.0.0": false, "example.com": false} {
		if got := isLoopbackHost(host); got != want {
			t.Fatalf("isLoopbackHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestGenerateServeToken(t *testing.T) {
	a, err := generateServeToken()
	if err != nil {
		t.Fatalf("generateServeToken: %v", err)
	}
	b, _ := generateServeToken()
	if len(a) != 43 || a == b {
		t.Fatalf("tokens %q %q", a, b)
	}
}
