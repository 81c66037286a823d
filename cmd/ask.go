package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonbmost/acquisition-assistant/internal/chat"
	"github.com/jonbmost/acquisition-assistant/internal/config"
	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/prompt"
	"github.com/jonbmost/acquisition-assistant/internal/signal"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	askProvider string
	askServer   string
	askToken    string
	askSession  string
	askWire     string
	askFile     string
	askPlain    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the acquisition assistant a question",
	Long: `Ask a single question and stream the answer.

By default the question goes straight to the configured provider with the
knowledge base attached. With --server the question is posted to a running
"acqassist serve" and the NDJSON answer stream is read back.

Examples:
  acqassist ask "What are the FAR Part 13 simplified acquisition thresholds?"
  acqassist ask -f sow.docx "List the evaluation risks in this SOW"
  acqassist ask --session 6d1c... "And for construction?"
  acqassist ask --server http://127.0.0.1:8080 --token $TOKEN "Explain OTAs"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	AddProviderFlag(askCmd, &askProvider)
	AddFileFlag(askCmd, &askFile, "Attach a .txt, .md or .docx file to the question")
	askCmd.Flags().StringVar(&askServer, "server", "", "Base URL of a running acqassist serve")
	askCmd.Flags().StringVar(&askToken, "token", "", "Bearer token for --server")
	askCmd.Flags().StringVar(&askSession, "session", "", "Continue an earlier session")
	askCmd.Flags().StringVar(&askWire, "wire", "ndjson", "Wire format of the --server stream: ndjson, anthropic-sse, openai-sse")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Print raw text instead of rendered markdown")
	if err := askCmd.RegisterFlagCompletionFunc("wire", WireFlagCompletion); err != nil {
		panic("failed to register wire completion: " + err.Error())
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	ctx, stop := signal.Shutdown(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, askProvider); err != nil {
		return err
	}

	var att *prompt.Document
	if askFile != "" {
		data, err := os.ReadFile(askFile)
		if err != nil {
			return fmt.Errorf("read attachment: %w", err)
		}
		doc, err := knowledge.ReadUpload(askFile, data)
		if err != nil {
			return err
		}
		att = &prompt.Document{Name: doc.Name, Content: doc.Content}
	}

	out := cmd.OutOrStdout()
	rich := !askPlain && isTerminal(out)
	view := &answerView{out: out, errOut: cmd.ErrOrStderr(), rich: rich}

	var (
		snap      stream.Snapshot
		sessionID string
		sendErr   error
	)
	if askServer != "" {
		snap, sessionID, sendErr = askRemote(ctx, question, att, view)
	} else {
		snap, sessionID, sendErr = askLocal(ctx, cfg, question, att, view)
	}

	view.finish(snap, sendErr)
	if sessionID != "" {
		slog.Debug("ask complete", "session", sessionID)
		if rich {
			fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("session: "+sessionID))
		}
	}
	return sendErr
}

func askLocal(ctx context.Context, cfg *config.Config, question string, att *prompt.Document, view *answerView) (stream.Snapshot, string, error) {
	logger := slog.Default()
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return stream.Snapshot{}, "", err
	}
	system, err := systemInstruction(cfg)
	if err != nil {
		return stream.Snapshot{}, "", err
	}
	store, err := openStore(cfg, logger)
	if err != nil {
		return stream.Snapshot{}, "", err
	}
	defer store.Close()
	kb, err := loadKnowledge(ctx, cfg, store, logger)
	if err != nil {
		return stream.Snapshot{}, "", err
	}

	active := cfg.Active()
	mgr := chat.NewManager(chat.Options{
		Provider:        provider,
		Model:           active.Model,
		System:          system,
		MaxOutputTokens: active.MaxOutputTokens,
		Knowledge:       kb,
		Builder:         promptBuilder(cfg),
		Store:           store,
		Logger:          logger,
	}, 0, 1)
	defer mgr.Close()

	sess, err := mgr.GetOrCreate(ctx, askSession)
	if err != nil {
		return stream.Snapshot{}, "", err
	}

	agg := stream.NewAggregator()
	reply, err := sess.Send(ctx, chat.SendRequest{Input: question, Attachment: att}, func(c stream.Chunk) error {
		agg.Apply(stream.Chunk{Text: c.Text, Citations: c.Citations})
		view.update(agg.Snapshot())
		return nil
	})
	snap := agg.Snapshot()
	// The stored reply is sanitized; show that rather than the raw stream.
	snap.Text = reply.Text
	snap.Citations = reply.Sources
	if err != nil && strings.HasPrefix(reply.Text, chat.ErrorPrefix) {
		snap.Text = ""
	}
	return snap, sess.ID(), err
}

func askRemote(ctx context.Context, question string, att *prompt.Document, view *answerView) (stream.Snapshot, string, error) {
	dec, err := stream.DecoderFor(askWire)
	if err != nil {
		return stream.Snapshot{}, "", err
	}
	var sessionID string
	client := &stream.Client{
		HTTPClient: &http.Client{},
		Decoder:    dec,
		Logger:     slog.Default(),
		Header:     http.Header{},
		OnResponse: func(h http.Header) { sessionID = h.Get("X-Session-ID") },
	}
	if askToken != "" {
		client.Header.Set("Authorization", "Bearer "+askToken)
	}

	payload := chatRequest{SessionID: askSession, Message: question}
	if att != nil {
		payload.Attachment = &chatAttachment{Name: att.Name, Content: att.Content}
	}
	url := strings.TrimRight(askServer, "/") + "/api/chat"
	snap, err := client.Post(ctx, url, payload, view.update)
	if err == nil {
		snap.Text = llm.SanitizeAnswer(snap.Text)
	}
	return snap, sessionID, err
}

var (
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

// answerView prints an answer as it streams. Plain output writes each new
// piece of text immediately; rich output shows progress on stderr and
// renders the finished markdown once.
type answerView struct {
	out     io.Writer
	errOut  io.Writer
	rich    bool
	printed int
}

func (v *answerView) update(snap stream.Snapshot) {
	if v.rich {
		fmt.Fprintf(v.errOut, "\r%s", mutedStyle.Render(fmt.Sprintf("receiving... %d chars", len(snap.Text))))
		return
	}
	if len(snap.Text) > v.printed {
		io.WriteString(v.out, snap.Text[v.printed:])
		v.printed = len(snap.Text)
	}
}

func (v *answerView) finish(snap stream.Snapshot, err error) {
	if v.rich {
		fmt.Fprint(v.errOut, "\r\033[K")
		if snap.Text != "" {
			rendered, rerr := renderMarkdown(snap.Text, getTerminalWidth())
			if rerr != nil {
				rendered = snap.Text + "\n"
			}
			io.WriteString(v.out, rendered)
		}
	} else if v.printed > 0 && !strings.HasSuffix(snap.Text, "\n") {
		io.WriteString(v.out, "\n")
	}

	if len(snap.Citations) > 0 {
		if v.rich {
			fmt.Fprintln(v.out, headerStyle.Render("Sources"))
		} else {
			fmt.Fprintln(v.out, "\nSources:")
		}
		for i, c := range snap.Citations {
			title := c.Title
			if title == "" {
				title = c.URI
			}
			fmt.Fprintf(v.out, "%d. %s - %s\n", i+1, title, c.URI)
		}
	}
	if err != nil {
		msg := "An error occurred: " + err.Error()
		if v.rich {
			msg = errorStyle.Render(msg)
		}
		fmt.Fprintln(v.errOut, msg)
	}
}

func renderMarkdown(content string, width int) (string, error) {
	style := styles.DarkStyleConfig
	style.Document.Margin = uintPtr(0)
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rendered) + "\n", nil
}

func uintPtr(v uint) *uint {
	return &v
}

// getTerminalWidth returns the terminal width or a default
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80 // default
	}
	return width
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
