package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonbmost/acquisition-assistant/internal/config"
	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/spf13/cobra"
)

var (
	exportFormat  string
	exportTitle   string
	exportHeading string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Convert an answer to a text, PDF or Word file",
	Long: `Convert a model answer (read from a file or stdin) to txt, pdf or docx.

Headings (#), "- " bullets and **bold** become Word headings, bulleted
paragraphs and bold runs. PDFs hold the literal wrapped text.

Examples:
  acqassist export answer.md --format docx
  acqassist ask "Draft a PWS outline" | acqassist export --format pdf -o pws.pdf
  acqassist export answer.md --format docx --heading "Market Research"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	AddFormatFlag(exportCmd, &exportFormat, "pdf")
	AddOutputFlag(exportCmd, &exportOutput)
	exportCmd.Flags().StringVar(&exportTitle, "title", "", "Document title (PDF title line and file name)")
	exportCmd.Flags().StringVar(&exportHeading, "heading", "", "Heading prepended in docx output")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	var (
		data     []byte
		baseName string
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
		baseName = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	svc := export.NewService(pdfOptions(cfg))
	res, err := svc.Export(cmd.Context(), nil, format, export.Document{
		Text:    string(data),
		Title:   exportTitle,
		Heading: exportHeading,
	}, firstNonEmpty(exportTitle, baseName))
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintln(cmd.ErrOrStderr(), "nothing to export: input is empty")
		return nil
	}
	return writeOutput(cmd, exportOutput, res)
}

// writeOutput writes an export to path, stdout for "-", or the result's
// suggested file name when path is empty.
func writeOutput(cmd *cobra.Command, path string, res export.Result) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(res.Data)
		return err
	}
	if path == "" {
		path = res.FileName
	}
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", path, len(res.Data))
	return nil
}

func pdfOptions(cfg *config.Config) export.PDFOptions {
	return export.PDFOptions{
		Margin:     cfg.Export.PDFMargin,
		LineHeight: cfg.Export.PDFLineHeight,
		FontSize:   cfg.Export.PDFFontSize,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
