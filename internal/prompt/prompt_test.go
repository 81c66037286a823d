package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemInstructionListsTrustedDomains(t *testing.T) {
	s, err := SystemInstruction("", []string{"acquisition.gov", "gsa.gov"})
	require.NoError(t, err)
	assert.Contains(t, s, "insufficient.")
	assert.Contains(t, s, "\n  - acquisition.gov\n  - gsa.gov\n- Session Memory")
	assert.NotContains(t, s, "{{")
}

func TestSystemInstructionDropsDuplicateDomains(t *testing.T) {
	s, err := SystemInstruction("", []string{"gsa.gov", "", "gsa.gov", "sba.gov"})
	require.NoError(t, err)
	assert.Contains(t, s, "\n  - gsa.gov\n  - sba.gov\n- Session Memory")
}

func TestSystemInstructionOverride(t *testing.T) {
	s, err := SystemInstruction("  Be brief.  ", []string{"gsa.gov"})
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", s)
}

func TestTruncate(t *testing.T) {
	out, cut := Truncate("abcdef", 3)
	assert.True(t, cut)
	assert.Equal(t, "abc"+TruncationMarker, out)

	out, cut = Truncate("héllo", 5)
	assert.False(t, cut)
	assert.Equal(t, "héllo", out)

	out, cut = Truncate(strings.Repeat("x", 10), 0)
	assert.False(t, cut)
	assert.Len(t, out, 10)
}

func TestUserPrompt(t *testing.T) {
	b := Builder{MaxDocumentLength: 4}
	got := b.UserPrompt("Draft a QASP",
		[]Document{{Name: "far.md", Content: "FAR 12"}, {Name: "b.txt", Content: "ok"}},
		&Document{Name: "pws.docx", Content: "scope"},
	)

	want := "You have access to the following documents in your knowledge base. Use them as primary context for your response:\n\n" +
		"--- DOCUMENT: far.md ---\nFAR " + TruncationMarker + "\n--- END DOCUMENT ---\n\n" +
		"--- DOCUMENT: b.txt ---\nok\n--- END DOCUMENT ---\n\n" +
		"The user has also attached the following document for this specific request (pws.docx). Use it as additional, immediate context:\n\n" +
		"--- ATTACHED DOCUMENT ---\nscop" + TruncationMarker + "\n--- END ATTACHED DOCUMENT ---\n\n" +
		"User Request: Draft a QASP"
	assert.Equal(t, want, got)
}

func TestUserPromptWithoutContext(t *testing.T) {
	assert.Equal(t, "User Request: hi", Builder{}.UserPrompt("hi", nil, nil))
}
