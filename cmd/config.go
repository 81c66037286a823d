package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonbmost/acquisition-assistant/internal/config"
	"github.com/spf13/cobra"
)

var installCompletions bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show acqassist configuration",
	Long: `Show the effective configuration with secrets masked.

Examples:
  acqassist config                     # show current config
  acqassist config path                # print config file path
  acqassist config init                # write a starter config file
  acqassist config completion zsh      # generate shell completions`,
	RunE: configShow, // Default to show
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long:  `Write a starter configuration file. An existing file is left alone unless --force is given.`,
	RunE:  configInit,
}

var configCompletionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script.

Examples:
  acqassist config completion bash
  acqassist config completion zsh --install`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      configCompletion,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCompletionCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCompletionCmd.Flags().BoolVar(&installCompletions, "install", false, "Install the script instead of printing it")
}

func configShow(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		fmt.Fprintf(out, "# No config file (using defaults)\n")
		fmt.Fprintf(out, "# Create one with: acqassist config init\n\n")
	} else {
		fmt.Fprintf(out, "# %s\n\n", path)
	}

	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

const defaultConfigContent = `# acqassist configuration
# Values can also be set with ACQASSIST_* environment variables,
# e.g. ACQASSIST_PROVIDER=gemini or ACQASSIST_SERVE_PORT=9000.

provider: claude

providers:
  claude:
    model: claude-sonnet-4-20250514
    # api_key: $ANTHROPIC_API_KEY
    max_output_tokens: 8192
  gemini:
    model: gemini-2.5-flash
    # api_key: $GEMINI_API_KEY
  openai:
    model: gpt-4o
    # api_key: $OPENAI_API_KEY

serve:
  host: 127.0.0.1
  port: 8080
  rate_per_minute: 30
  session_ttl: 30m
  max_sessions: 1000

knowledge:
  dir: knowledge-base

history:
  enabled: true

log:
  level: info
  format: text
`

func configCompletion(cmd *cobra.Command, args []string) error {
	shell := args[0]
	if installCompletions {
		return installShellCompletion(cmd, shell)
	}
	return genCompletion(cmd.OutOrStdout(), shell)
}

func genCompletion(w io.Writer, shell string) error {
	switch shell {
	case "bash":
		return rootCmd.GenBashCompletion(w)
	case "zsh":
		return rootCmd.GenZshCompletion(w)
	case "fish":
		return rootCmd.GenFishCompletion(w, true)
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc(w)
	}
	return nil
}

func installShellCompletion(cmd *cobra.Command, shell string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	var (
		path string
		buf  bytes.Buffer
	)
	switch shell {
	case "bash":
		path = filepath.Join(home, ".bash_completion.d", "acqassist")
		err = rootCmd.GenBashCompletion(&buf)
	case "zsh":
		path = filepath.Join(home, ".local", "share", "zsh", "site-functions", "_acqassist")
		err = rootCmd.GenZshCompletion(&buf)
	case "fish":
		path = filepath.Join(home, ".config", "fish", "completions", "acqassist.fish")
		err = rootCmd.GenFishCompletion(&buf, true)
	case "powershell":
		path = filepath.Join(home, ".config", "powershell", "completions", "acqassist.ps1")
		err = rootCmd.GenPowerShellCompletionWithDesc(&buf)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write completion file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed %s completion to %s\n", shell, path)
	return nil
}
