package cmd

import (
	"strings"

	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/spf13/cobra"
)

// AddProviderFlag adds the --provider/-p flag with completion
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "provider", "p", "", "Override provider, optionally with model (e.g., gemini:gemini-2.5-pro)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddFileFlag adds the --file/-f flag
func AddFileFlag(cmd *cobra.Command, dest *string, description string) {
	cmd.Flags().StringVarP(dest, "file", "f", "", description)
}

// AddFormatFlag adds the --format flag for export formats
func AddFormatFlag(cmd *cobra.Command, dest *string, defaultValue string) {
	cmd.Flags().StringVar(dest, "format", defaultValue, "Export format: txt, pdf or docx")
	if err := cmd.RegisterFlagCompletionFunc("format", FormatFlagCompletion); err != nil {
		panic("failed to register format completion: " + err.Error())
	}
}

// AddOutputFlag adds the --output/-o flag
func AddOutputFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "output", "o", "", "Output file (default derived from the title, - for stdout)")
}

// ProviderFlagCompletion completes provider names for --provider.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, name := range llm.ProviderNames() {
		if strings.HasPrefix(name, toComplete) {
			completions = append(completions, name)
		}
	}
	// No space so the user can type ":model"
	return completions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
}

// FormatFlagCompletion completes export formats for --format.
func FormatFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{string(export.FormatText), string(export.FormatPDF), string(export.FormatDOCX)}, cobra.ShellCompDirectiveNoFileComp
}

// WireFlagCompletion completes stream wire formats for --wire.
func WireFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return stream.WireFormats(), cobra.ShellCompDirectiveNoFileComp
}
