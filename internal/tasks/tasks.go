// Package tasks runs the single-shot specialist workflows (strategy, SOPs,
// market research, slides and so on) defined in embedded YAML.
package tasks

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/prompt"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

var (
	// ErrUnknown is returned for a task name with no definition.
	ErrUnknown = errors.New("unknown task")
	// ErrMissingInput wraps the user-facing message of a missing field.
	ErrMissingInput = errors.New("missing input")
)

// OutputSlides marks tasks whose answer is parsed with ParseSlides.
const OutputSlides = "slides"

// Input describes one field a task accepts.
type Input struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required" json:"required"`
	// Missing is shown when a required input is blank.
	Missing string `yaml:"missing" json:"-"`
}

// Task is one specialist workflow.
type Task struct {
	Name        string  `yaml:"name" json:"name"`
	Title       string  `yaml:"title" json:"title"`
	Description string  `yaml:"description" json:"description"`
	System      string  `yaml:"system" json:"-"`
	Prompt      string  `yaml:"prompt" json:"-"`
	Search      bool    `yaml:"search" json:"search"`
	Output      string  `yaml:"output" json:"output,omitempty"`
	Inputs      []Input `yaml:"inputs" json:"inputs"`
}

// Result is a finished task run.
type Result struct {
	Task   string  `json:"task"`
	Text   string  `json:"text"`
	Slides []Slide `json:"slides,omitempty"`
}

// Load parses every embedded task definition.
func Load() ([]Task, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("read builtin tasks: %w", err)
	}
	var out []Task
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("builtin", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var t Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		if t.Name == "" {
			t.Name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Runner executes tasks against a provider.
type Runner struct {
	Provider          llm.Provider
	Model             string
	MaxOutputTokens   int
	MaxDocumentLength int
	Logger            *slog.Logger

	tasks map[string]Task
}

// NewRunner loads the embedded tasks.
func NewRunner(p llm.Provider, model string, maxDocumentLength int, logger *slog.Logger) (*Runner, error) {
	list, err := Load()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{
		Provider:          p,
		Model:             model,
		MaxDocumentLength: maxDocumentLength,
		Logger:            logger.With("component", "tasks"),
		tasks:             make(map[string]Task, len(list)),
	}
	for _, t := range list {
		r.tasks[t.Name] = t
	}
	return r, nil
}

// Tasks lists the available tasks by name.
func (r *Runner) Tasks() []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a task by name.
func (r *Runner) Get(name string) (Task, error) {
	t, ok := r.tasks[name]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return t, nil
}

// Render validates vars and renders the task's user prompt.
func (r *Runner) Render(t Task, vars map[string]string) (string, error) {
	for _, in := range t.Inputs {
		if in.Required && strings.TrimSpace(vars[in.Name]) == "" {
			msg := in.Missing
			if msg == "" {
				msg = in.Name + " is required"
			}
			return "", fmt.Errorf("%w: %s", ErrMissingInput, msg)
		}
	}

	funcs := sprig.TxtFuncMap()
	funcs["truncateDocument"] = func(s string) string {
		out, _ := prompt.Truncate(s, r.MaxDocumentLength)
		return out
	}
	funcs["siteURL"] = siteURL

	tmpl, err := template.New(t.Name).Funcs(funcs).Parse(t.Prompt)
	if err != nil {
		return "", fmt.Errorf("parse %s prompt: %w", t.Name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name, err)
	}
	return sb.String(), nil
}

// Run renders and executes a task, returning the sanitized answer.
func (r *Runner) Run(ctx context.Context, name string, vars map[string]string) (Result, error) {
	t, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	userPrompt, err := r.Render(t, vars)
	if err != nil {
		return Result{}, err
	}

	req := llm.Request{
		Model:           r.Model,
		System:          t.System,
		Messages:        []llm.Message{llm.UserText(userPrompt)},
		Search:          t.Search,
		MaxOutputTokens: r.MaxOutputTokens,
	}
	snap, err := llm.Collect(ctx, r.Provider, req)
	if err != nil {
		r.Logger.Error("task failed", "task", name, "error", err)
		return Result{Task: name, Text: llm.SanitizeAnswer(snap.Text)}, fmt.Errorf("run %s: %w", name, err)
	}

	res := Result{Task: name, Text: llm.SanitizeAnswer(snap.Text)}
	if t.Output == OutputSlides {
		slides, err := ParseSlides(res.Text)
		if err != nil {
			return res, err
		}
		res.Slides = slides
	}
	r.Logger.Info("task complete", "task", name, "chars", len(res.Text))
	return res, nil
}

// siteURL turns "acquisition.gov" into "https://acquisition.gov".
func siteURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return "https://" + s
}
