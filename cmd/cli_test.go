package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/jonbmost/acquisition-assistant/internal/tasks"
	"github.com/spf13/cobra"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("expected json warn line, got %q", out)
	}

	if _, err := newLogger(&buf, "", ""); err != nil {
		t.Errorf("empty level and format should default, got %v", err)
	}
	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseTaskVars(t *testing.T) {
	vars, err := parseTaskVars([]string{"url=acquisition.gov", " question =What is new? a=b", "empty="})
	if err != nil {
		t.Fatalf("parseTaskVars: %v", err)
	}
	if vars["url"] != "acquisition.gov" {
		t.Errorf("url = %q", vars["url"])
	}
	if vars["question"] != "What is new? a=b" {
		t.Errorf("question = %q", vars["question"])
	}
	if v, ok := vars["empty"]; !ok || v != "" {
		t.Errorf("empty = %q, %v", v, ok)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseTaskVars([]string{bad}); err == nil {
			t.Errorf("parseTaskVars(%q) expected error", bad)
		}
	}
}

func TestAnswerViewPlain(t *testing.T) {
	var out, errOut bytes.Buffer
	view := &answerView{out: &out, errOut: &errOut}

	view.update(stream.Snapshot{Text: "FAR Part"})
	view.update(stream.Snapshot{Text: "FAR Part 13"})
	view.finish(stream.Snapshot{
		Text: "FAR Part 13",
		Citations: []stream.Citation{
			{URI: "https://acquisition.gov/far/part-13", Title: "FAR 13"},
			{URI: "https://gsa.gov"},
		},
	}, errors.New("stream closed"))

	want := "FAR Part 13\n\nSources:\n1. FAR 13 - https://acquisition.gov/far/part-13\n2. https://gsa.gov - https://gsa.gov\n"
	if out.String() != want {
		t.Errorf("stdout:\n%q\nwant:\n%q", out.String(), want)
	}
	if errOut.String() != "An error occurred: stream closed\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestAnswerViewPlainNoOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	view := &answerView{out: &out, errOut: &errOut}
	view.finish(stream.Snapshot{}, nil)
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Errorf("expected no output, got %q / %q", out.String(), errOut.String())
	}
}

func TestRenderMarkdown(t *testing.T) {
	rendered, err := renderMarkdown("## Thresholds\n\n- **Micro-purchase**: $10,000", 80)
	if err != nil {
		t.Fatalf("renderMarkdown: %v", err)
	}
	if !strings.Contains(rendered, "Thresholds") || !strings.Contains(rendered, "Micro-purchase") {
		t.Errorf("rendered output lost content: %q", rendered)
	}
	if !strings.HasSuffix(rendered, "\n") {
		t.Error("rendered output should end with a newline")
	}
}

func TestPrintSlides(t *testing.T) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	printSlides(c, []tasks.Slide{
		{Title: "Overview", Icon: "📋", Bullets: []string{"Scope", "Schedule"}},
		{Title: "Risks"},
	})
	want := "Slide 1: 📋 Overview\n  - Scope\n  - Schedule\n\nSlide 2: Risks\n\n"
	if out.String() != want {
		t.Errorf("got:\n%q\nwant:\n%q", out.String(), want)
	}
}

func newExportTestCommand(t *testing.T, stdin string) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configFile = ""

	var out, errOut bytes.Buffer
	c := &cobra.Command{}
	c.SetContext(context.Background())
	c.SetIn(strings.NewReader(stdin))
	c.SetOut(&out)
	c.SetErr(&errOut)
	return c, &out, &errOut
}

func TestRunExportWritesFile(t *testing.T) {
	c, _, errOut := newExportTestCommand(t, "")
	dir := t.TempDir()
	src := filepath.Join(dir, "answer.md")
	if err := os.WriteFile(src, []byte("# Summary\n- item"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out.txt")

	exportFormat, exportOutput, exportTitle, exportHeading = "txt", dest, "", ""
	t.Cleanup(func() { exportFormat, exportOutput = "pdf", "" })

	if err := runExport(c, []string{src}); err != nil {
		t.Fatalf("runExport: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "# Summary\n- item" {
		t.Errorf("output = %q", data)
	}
	if !strings.Contains(errOut.String(), "wrote "+dest) {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestRunExportStdout(t *testing.T) {
	c, out, _ := newExportTestCommand(t, "piped answer")
	exportFormat, exportOutput, exportTitle, exportHeading = "txt", "-", "", ""
	t.Cleanup(func() { exportFormat, exportOutput = "pdf", "" })

	if err := runExport(c, nil); err != nil {
		t.Fatalf("runExport: %v", err)
	}
	if out.String() != "piped answer" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestRunExportBlankInputIsNoop(t *testing.T) {
	c, out, errOut := newExportTestCommand(t, "  \n\t")
	exportFormat, exportOutput, exportTitle, exportHeading = "docx", "-", "", ""
	t.Cleanup(func() { exportFormat, exportOutput = "pdf", "" })

	if err := runExport(c, nil); err != nil {
		t.Fatalf("runExport: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %d bytes", out.Len())
	}
	if !strings.Contains(errOut.String(), "nothing to export") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestRunExportUnknownFormat(t *testing.T) {
	c, _, _ := newExportTestCommand(t, "text")
	exportFormat, exportOutput = "pptx", "-"
	t.Cleanup(func() { exportFormat, exportOutput = "pdf", "" })

	if err := runExport(c, nil); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "far", "x"); got != "far" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Errorf("firstNonEmpty() = %q", got)
	}
}
