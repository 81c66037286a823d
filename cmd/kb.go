package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/mcpserver"
	"github.com/jonbmost/acquisition-assistant/internal/session"
	"github.com/spf13/cobra"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect and manage the knowledge base",
	Long: `List, search and manage knowledge-base documents.

Repository documents come from the knowledge directory and are read-only.
Uploaded documents are kept in the history database.

Examples:
  acqassist kb list
  acqassist kb search "simplified acquisition"
  acqassist kb add sow.docx
  acqassist kb remove 3f2c...`,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge-base documents",
	Args:  cobra.NoArgs,
	RunE:  runKBList,
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search document lines",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKBSearch,
}

var kbAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Upload .txt, .md or .docx documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKBAdd,
}

var kbRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBRemove,
}

func init() {
	rootCmd.AddCommand(kbCmd)
	kbCmd.AddCommand(kbListCmd, kbSearchCmd, kbAddCmd, kbRemoveCmd)
}

func runKBList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()
	kb, err := loadKnowledge(cmd.Context(), cfg, store, slog.Default())
	if err != nil {
		return err
	}

	docs := kb.All()
	if len(docs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No documents (knowledge dir: %s)\n", cfg.Knowledge.Dir)
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tCHARS")
	for _, d := range docs {
		id := d.ID
		if d.Source == knowledge.SourceRepository {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", id, d.Name, d.Source, len(d.Content))
	}
	return tw.Flush()
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()
	kb, err := loadKnowledge(cmd.Context(), cfg, store, slog.Default())
	if err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("query is required")
	}
	fmt.Fprintln(cmd.OutOrStdout(), mcpserver.FormatSearch(query, kb.Search(query)))
	return nil
}

func runKBAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("uploads need history enabled (history.enabled: true)")
	}
	store, err := openStore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	for _, name := range args {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		doc, err := knowledge.ReadUpload(name, data)
		if err != nil {
			return err
		}
		if err := store.SaveDocument(cmd.Context(), &session.Document{
			ID:        doc.ID,
			Name:      doc.Name,
			Content:   doc.Content,
			CreatedAt: doc.Added,
		}); err != nil {
			return fmt.Errorf("save %s: %w", doc.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", doc.ID, doc.Name)
	}
	return nil
}

func runKBRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.DeleteDocument(cmd.Context(), args[0])
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("no uploaded document with id %s", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}
