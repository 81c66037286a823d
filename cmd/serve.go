package cmd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/chat"
	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/serveui"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/jonbmost/acquisition-assistant/internal/signal"
	"github.com/jonbmost/acquisition-assistant/internal/tasks"
	"github.com/spf13/cobra"
)

var (
	serveHost        string
	servePort        int
	serveToken       string
	serveAllowNoAuth bool
	serveCORSOrigins []string
	serveSessionTTL  time.Duration
	serveSessionMax  int
	serveRate        int
	serveProvider    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat UI and HTTP API",
	Long: `Run the acquisition assistant web UI and its HTTP API.

Endpoints:
  POST   /api/chat                      NDJSON answer stream (X-Session-ID header)
  GET    /api/sessions/{id}/messages
  GET    /api/sessions/{id}/transcript
  DELETE /api/sessions/{id}
  POST   /api/export/{txt|pdf|docx}
  GET    /api/knowledge, POST /api/knowledge, DELETE /api/knowledge/{id}
  POST   /api/knowledge/parse
  GET    /api/tasks, POST /api/tasks/{name}
  GET    /health

Flags override the serve.* config keys.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config, 127.0.0.1)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config, 8080)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token for API auth (auto-generated if omitted)")
	serveCmd.Flags().BoolVar(&serveAllowNoAuth, "allow-no-auth", false, "Disable auth (only allowed on loopback host)")
	serveCmd.Flags().StringArrayVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable, or '*' for all)")
	serveCmd.Flags().DurationVar(&serveSessionTTL, "session-ttl", 0, "Chat session idle TTL (default from config, 30m)")
	serveCmd.Flags().IntVar(&serveSessionMax, "session-max", 0, "Max chat sessions in memory (default from config, 1000)")
	serveCmd.Flags().IntVar(&serveRate, "rate", -1, "Model requests per minute per client, 0 for unlimited (default from config)")
	AddProviderFlag(serveCmd, &serveProvider)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, serveProvider); err != nil {
		return err
	}

	sc := cfg.Serve
	if cmd.Flags().Changed("host") {
		sc.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		sc.Port = servePort
	}
	if cmd.Flags().Changed("token") {
		sc.Token = serveToken
	}
	if cmd.Flags().Changed("cors-origin") {
		sc.CORSOrigins = serveCORSOrigins
	}
	if cmd.Flags().Changed("session-ttl") {
		sc.SessionTTL = serveSessionTTL
	}
	if cmd.Flags().Changed("session-max") {
		sc.MaxSessions = serveSessionMax
	}
	if cmd.Flags().Changed("rate") {
		sc.RatePerMinute = serveRate
	}

	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("invalid --port %d (must be 1-65535)", sc.Port)
	}
	if sc.SessionTTL <= 0 {
		return fmt.Errorf("invalid --session-ttl %s (must be > 0)", sc.SessionTTL)
	}
	if sc.MaxSessions <= 0 {
		return fmt.Errorf("invalid --session-max %d (must be > 0)", sc.MaxSessions)
	}
	if sc.RatePerMinute < 0 {
		return fmt.Errorf("invalid --rate %d (must be >= 0)", sc.RatePerMinute)
	}

	requireAuth := !serveAllowNoAuth
	if !requireAuth && !isLoopbackHost(sc.Host) {
		return fmt.Errorf("--allow-no-auth is only allowed on loopback hosts (got %q)", sc.Host)
	}
	token := strings.TrimSpace(sc.Token)
	if requireAuth && token == "" {
		generated, err := generateServeToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		token = generated
	}

	ctx, stop := signal.Shutdown(cmd.Context())
	defer stop()

	logger := slog.Default().With("component", "serve")

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}
	system, err := systemInstruction(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	kb, err := loadKnowledge(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	active := cfg.Active()
	chats := chat.NewManager(chat.Options{
		Provider:        provider,
		Model:           active.Model,
		System:          system,
		MaxOutputTokens: active.MaxOutputTokens,
		Knowledge:       kb,
		Builder:         promptBuilder(cfg),
		Store:           store,
		Logger:          slog.Default(),
	}, sc.SessionTTL, sc.MaxSessions)
	defer chats.Close()

	runner, err := tasks.NewRunner(provider, active.Model, cfg.Knowledge.MaxDocumentLength, slog.Default())
	if err != nil {
		return err
	}
	runner.MaxOutputTokens = active.MaxOutputTokens

	s := &serveServer{
		cfg: serveServerConfig{
			host:        sc.Host,
			port:        sc.Port,
			requireAuth: requireAuth,
			token:       token,
			corsOrigins: append([]string(nil), sc.CORSOrigins...),
		},
		chats:    chats,
		kb:       kb,
		store:    store,
		exporter: export.NewService(pdfOptions(cfg)),
		tasks:    runner,
		limiter:  newClientLimiter(sc.RatePerMinute),
		logger:   logger,
	}

	if err := s.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "acqassist serve listening on http://%s:%d\n", sc.Host, sc.Port)
	fmt.Fprintf(cmd.ErrOrStderr(), "auth: %s\n", authSummary(requireAuth))
	if requireAuth {
		fmt.Fprintf(cmd.ErrOrStderr(), "token: %s\n", token)
		fmt.Fprintf(cmd.ErrOrStderr(), "ui: http://%s:%d/#token=%s\n", sc.Host, sc.Port, token)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "provider: %s (%s)\n", provider.Name(), active.Model)
	fmt.Fprintf(cmd.ErrOrStderr(), "knowledge: %d documents\n", len(kb.All()))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func authSummary(required bool) string {
	if required {
		return "bearer required"
	}
	return "disabled"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	return h == "127.0.0.1" || h == "localhost" || h == "::1"
}

func generateServeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type serveServerConfig struct {
	host        string
	port        int
	requireAuth bool
	token       string
	corsOrigins []string
}

type serveServer struct {
	cfg      serveServerConfig
	chats    *chat.Manager
	kb       *knowledge.Base
	store    session.Store
	exporter *export.Service
	tasks    *tasks.Runner
	limiter  *clientLimiter
	logger   *slog.Logger
	server   *http.Server

	// exportGuard gates exports that are not tied to a session.
	exportGuard export.Guard
}

func (s *serveServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.cors(s.handleHealth))

	mux.HandleFunc("/api/chat", s.auth(s.cors(s.limit(s.handleChat))))
	mux.HandleFunc("/api/sessions/{id}/messages", s.auth(s.cors(s.handleSessionMessages)))
	mux.HandleFunc("/api/sessions/{id}/transcript", s.auth(s.cors(s.handleSessionTranscript)))
	mux.HandleFunc("/api/sessions/{id}", s.auth(s.cors(s.handleDeleteSession)))
	mux.HandleFunc("/api/export/{format}", s.auth(s.cors(s.handleExport)))
	mux.HandleFunc("/api/knowledge", s.auth(s.cors(s.handleKnowledge)))
	mux.HandleFunc("/api/knowledge/parse", s.auth(s.cors(s.handleKnowledgeParse)))
	mux.HandleFunc("/api/knowledge/{id}", s.auth(s.cors(s.handleKnowledgeDelete)))
	mux.HandleFunc("/api/tasks", s.auth(s.cors(s.handleTasks)))
	mux.HandleFunc("/api/tasks/{name}", s.auth(s.cors(s.limit(s.handleRunTask))))

	mux.HandleFunc("/{$}", s.cors(s.handleUI))
	return mux
}

func (s *serveServer) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.host, fmt.Sprint(s.cfg.port)),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *serveServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *serveServer) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(serveui.IndexHTML())
}

func (s *serveServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.requireAuth {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) {
			writeError(w, http.StatusUnauthorized, "invalid authentication credentials")
			return
		}
		gotToken := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
		if subtle.ConstantTimeCompare([]byte(gotToken), []byte(s.cfg.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid authentication credentials")
			return
		}
		next(w, r)
	}
}

func (s *serveServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.corsOrigins))
	allowAll := false
	for _, origin := range s.cfg.corsOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID, Content-Disposition")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// limit applies the per-client rate limit to endpoints that call the model.
func (s *serveServer) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if ok, wait := s.limiter.Allow(clientKey(r)); !ok {
				w.Header().Set("Retry-After", fmt.Sprint(int(wait.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "too many requests, please slow down")
				return
			}
		}
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
