package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/signal"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/jonbmost/acquisition-assistant/internal/tasks"
	"github.com/spf13/cobra"
)

var (
	taskProvider string
	taskVars     []string
	taskFile     string
	taskJSON     bool
)

var taskCmd = &cobra.Command{
	Use:   "task [name] [input...]",
	Short: "Run a specialist acquisition task",
	Long: `Run one of the built-in specialist tasks (market research, SOPs,
evaluation criteria, authority assessments, document analysis, URL queries
and briefing slides). With no arguments the available tasks are listed.

Positional text after the task name becomes the "input" field; other fields
are set with --var name=value.

Examples:
  acqassist task
  acqassist task market-research "zero trust network access"
  acqassist task document-analysis -f sow.docx --var question="What are the risks?"
  acqassist task url-query --var url=acquisition.gov --var question="What changed in FAR 19?"
  acqassist task slide-ranger "Q3 program review notes" --json`,
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	AddProviderFlag(taskCmd, &taskProvider)
	AddFileFlag(taskCmd, &taskFile, "Read a document into the content and filename fields")
	taskCmd.Flags().StringArrayVar(&taskVars, "var", nil, "Task field as name=value (repeatable)")
	taskCmd.Flags().BoolVar(&taskJSON, "json", false, "Print the result as JSON")
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		list, err := tasks.Load()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, t := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Title, t.Description)
		}
		return tw.Flush()
	}

	vars, err := parseTaskVars(taskVars)
	if err != nil {
		return err
	}
	if len(args) > 1 {
		vars["input"] = strings.Join(args[1:], " ")
	}
	if taskFile != "" {
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", taskFile, err)
		}
		doc, err := knowledge.ReadUpload(taskFile, data)
		if err != nil {
			return err
		}
		vars["content"] = doc.Content
		vars["filename"] = doc.Name
	}

	if err := applyProviderOverrides(cfg, taskProvider); err != nil {
		return err
	}
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}
	runner, err := tasks.NewRunner(provider, cfg.Active().Model, cfg.Knowledge.MaxDocumentLength, slog.Default())
	if err != nil {
		return err
	}
	runner.MaxOutputTokens = cfg.Active().MaxOutputTokens

	ctx, stop := signal.Shutdown(cmd.Context())
	defer stop()

	res, err := runner.Run(ctx, args[0], vars)
	if err != nil && errors.Is(err, tasks.ErrMissingInput) {
		return fmt.Errorf("%s (set it with --var)", err)
	}
	if taskJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}

	if len(res.Slides) > 0 {
		printSlides(cmd, res.Slides)
		return err
	}
	view := &answerView{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), rich: isTerminal(cmd.OutOrStdout())}
	snap := stream.Snapshot{Text: res.Text}
	if !view.rich {
		view.update(snap)
	}
	view.finish(snap, err)
	return err
}

func parseTaskVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q (want name=value)", p)
		}
		vars[name] = value
	}
	return vars, nil
}

func printSlides(cmd *cobra.Command, slides []tasks.Slide) {
	out := cmd.OutOrStdout()
	for i, s := range slides {
		title := s.Title
		if s.Icon != "" {
			title = s.Icon + " " + title
		}
		fmt.Fprintf(out, "Slide %d: %s\n", i+1, title)
		for _, b := range s.Bullets {
			fmt.Fprintf(out, "  - %s\n", b)
		}
		fmt.Fprintln(out)
	}
}
