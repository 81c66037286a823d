package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionsLimit  int
	sessionsOutput string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved conversations",
	Long: `List, show, delete and export saved conversations.

Examples:
  acqassist sessions                       # List recent sessions
  acqassist sessions show <id>
  acqassist sessions delete <id>
  acqassist sessions export <id> -o history.txt`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Save a session transcript to a text file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsExportCmd)
	sessionsCmd.PersistentFlags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum sessions to list")
	AddOutputFlag(sessionsExportCmd, &sessionsOutput)
}

func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, errors.New("history is disabled (history.enabled: false)")
	}
	return openStore(cfg, slog.Default())
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-40s %4s %s\n", "ID", "SUMMARY", "MSGS", "AGE")
	for _, s := range summaries {
		summary := s.Summary
		if r := []rune(summary); len(r) > 40 {
			summary = string(r[:37]) + "..."
		}
		fmt.Fprintf(out, "%-36s %-40s %4d %s\n", s.ID, summary, s.MessageCount, formatRelativeTime(s.UpdatedAt))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	text, err := sessionTranscript(cmd, store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session: %s\n", args[0])
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	text, err := sessionTranscript(cmd, store, args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd, sessionsOutput, export.Result{
		Data:     []byte(text),
		FileName: export.TranscriptFileName(time.Now()),
	})
}

func sessionTranscript(cmd *cobra.Command, store session.Store, id string) (string, error) {
	sess, err := store.Get(cmd.Context(), id)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("session %s not found", id)
	}
	msgs, err := store.GetMessages(cmd.Context(), id, 0, 0)
	if err != nil {
		return "", err
	}
	entries := make([]export.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, export.TranscriptEntry{
			Role:       string(m.Role),
			Time:       m.CreatedAt.Local(),
			Attachment: m.Attachment,
			Text:       m.Text,
			Citations:  m.Citations,
		})
	}
	return export.Transcript(entries), nil
}

// formatRelativeTime returns a human-readable relative time string
func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
