// Package prompt assembles the system instruction and the per-turn user
// prompt sent to the model.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/Masterminds/sprig/v3"
)

//go:embed system.tmpl
var systemTemplate string

var systemTmpl = template.Must(template.New("system").Funcs(sprig.TxtFuncMap()).Parse(systemTemplate))

// TruncationMarker is appended to documents cut at the length limit.
const TruncationMarker = "\n\n... [Content truncated for brevity] ..."

// DefaultMaxDocumentLength is the per-document character limit.
const DefaultMaxDocumentLength = 15000

// Document is a named text the model should treat as context.
type Document struct {
	Name    string
	Content string
}

// SystemInstruction renders the assistant's standing instruction. A non-empty
// override replaces the built-in text entirely.
func SystemInstruction(override string, trustedDomains []string) (string, error) {
	if s := strings.TrimSpace(override); s != "" {
		return s, nil
	}
	var sb strings.Builder
	if err := systemTmpl.Execute(&sb, struct{ TrustedDomains []string }{trustedDomains}); err != nil {
		return "", fmt.Errorf("render system instruction: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Truncate cuts content to max characters and appends TruncationMarker.
// It reports whether anything was cut. max <= 0 disables the limit.
func Truncate(content string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(content) <= max {
		return content, false
	}
	runes := []rune(content)
	return string(runes[:max]) + TruncationMarker, true
}

// Builder assembles user prompts.
type Builder struct {
	MaxDocumentLength int
}

// KnowledgePrefix renders the knowledge-base preamble, or "" when docs is
// empty.
func (b Builder) KnowledgePrefix(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		content, _ := Truncate(d.Content, b.MaxDocumentLength)
		blocks = append(blocks, fmt.Sprintf("--- DOCUMENT: %s ---\n%s\n--- END DOCUMENT ---", d.Name, content))
	}
	return "You have access to the following documents in your knowledge base. Use them as primary context for your response:\n\n" +
		strings.Join(blocks, "\n\n") + "\n\n"
}

// AttachmentBlock renders a document attached to a single request.
func (b Builder) AttachmentBlock(att *Document) string {
	if att == nil {
		return ""
	}
	content, _ := Truncate(att.Content, b.MaxDocumentLength)
	return fmt.Sprintf("The user has also attached the following document for this specific request (%s). Use it as additional, immediate context:\n\n--- ATTACHED DOCUMENT ---\n%s\n--- END ATTACHED DOCUMENT ---\n\n", att.Name, content)
}

// UserPrompt combines the knowledge base, an optional attachment and the
// user's input.
func (b Builder) UserPrompt(input string, kb []Document, att *Document) string {
	return b.KnowledgePrefix(kb) + b.AttachmentBlock(att) + "User Request: " + input
}
