package tasks

import (
	"context"
	"strings"
	"testing"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/jonbmost/acquisition-assistant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltinTasks(t *testing.T) {
	list, err := Load()
	require.NoError(t, err)

	var names []string
	for _, task := range list {
		names = append(names, task.Name)
		assert.NotEmpty(t, task.Title, task.Name)
		assert.NotEmpty(t, task.Prompt, task.Name)
	}
	assert.Equal(t, []string{
		"authority-assessment", "document-analysis", "eval-criteria", "market-research",
		"slide-ranger", "sop", "strategy", "url-query",
	}, names)
}

func TestRenderPrompts(t *testing.T) {
	r, err := NewRunner(testutil.NewMockProvider("mock"), "", 10, nil)
	require.NoError(t, err)

	tests := []struct {
		task string
		vars map[string]string
		want string
	}{
		{"sop", map[string]string{"input": "  vendor onboarding "}, "Create a standard operating procedure for the following process: vendor onboarding"},
		{"strategy", map[string]string{"input": "cloud hosting"}, "cloud hosting"},
		{"url-query", map[string]string{"url": "acquisition.gov", "question": "What is FAR 12?"}, "Using the content of https://acquisition.gov, answer the following question.\n\nQuestion: What is FAR 12?"},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			task, err := r.Get(tt.task)
			require.NoError(t, err)
			got, err := r.Render(task, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderDocumentAnalysisTruncates(t *testing.T) {
	r, err := NewRunner(testutil.NewMockProvider("mock"), "", 10, nil)
	require.NoError(t, err)
	task, err := r.Get("document-analysis")
	require.NoError(t, err)

	got, err := r.Render(task, map[string]string{"content": strings.Repeat("x", 50), "question": "risks?"})
	require.NoError(t, err)
	assert.Contains(t, got, `"document"`)
	assert.Contains(t, got, "xxxxxxxxxx\n\n... [Content truncated for brevity] ...")
	assert.NotContains(t, got, strings.Repeat("x", 11))
}

func TestRenderMissingInput(t *testing.T) {
	r, err := NewRunner(testutil.NewMockProvider("mock"), "", 0, nil)
	require.NoError(t, err)
	task, err := r.Get("document-analysis")
	require.NoError(t, err)

	_, err = r.Render(task, map[string]string{"content": "text"})
	require.ErrorIs(t, err, ErrMissingInput)
	assert.Contains(t, err.Error(), "Please enter a question about the document.")
}

func TestRunUnknown(t *testing.T) {
	r, err := NewRunner(testutil.NewMockProvider("mock"), "", 0, nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestRunSendsSystemAndSearch(t *testing.T) {
	p := testutil.NewMockProvider("mock")
	p.AddTurn(testutil.MockTurn{Chunks: []string{"Summary ", `<invoke name="mcp">x</invoke>`}, Citations: []stream.Citation{{URI: "https://sam.gov"}}})
	r, err := NewRunner(p, "m", 0, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "market-research", map[string]string{"input": "SaaS analytics"})
	require.NoError(t, err)
	assert.Equal(t, "Summary", res.Text)

	req, ok := p.LastRequest()
	require.True(t, ok)
	assert.True(t, req.Search)
	assert.Equal(t, "m", req.Model)
	assert.Contains(t, req.System, "market research summaries")
	assert.Equal(t, "Generate a market research summary for: SaaS analytics", req.Messages[0].Text())
}

func TestRunProviderError(t *testing.T) {
	p := testutil.NewMockProvider("mock")
	p.AddTurn(testutil.MockTurn{Chunks: []string{"half"}, Err: testutil.ErrMock})
	r, err := NewRunner(p, "", 0, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "sop", map[string]string{"input": "x"})
	require.ErrorIs(t, err, testutil.ErrMock)
	assert.Equal(t, "half", res.Text)
}

func TestRunSlideRanger(t *testing.T) {
	p := testutil.NewMockProvider("mock").AddTextResponse("```json\n", `{"slides":[{"title":"Mission","bullets":["a"," ",3]}]}`, "\n```")
	r, err := NewRunner(p, "", 0, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "slide-ranger", map[string]string{"input": "notes"})
	require.NoError(t, err)
	require.Len(t, res.Slides, 1)
	assert.Equal(t, []string{"a"}, res.Slides[0].Bullets)
}

func TestParseSlidesDefaults(t *testing.T) {
	slides, err := ParseSlides(`Here you go: {"slides":[{"bullets":"nope","themeColor":"#111111","icon":" 🚀 "},{"title":"Two","accentColor":""}]}`)
	require.NoError(t, err)
	require.Len(t, slides, 2)

	assert.Equal(t, "Untitled slide", slides[0].Title)
	assert.Empty(t, slides[0].Bullets)
	assert.Equal(t, "#111111", slides[0].ThemeColor)
	assert.Equal(t, DefaultAccentColor, slides[0].AccentColor)
	assert.Equal(t, "🚀", slides[0].Icon)

	assert.Equal(t, DefaultThemeColor, slides[1].ThemeColor)
	assert.Equal(t, DefaultAccentColor, slides[1].AccentColor)
}

func TestParseSlidesRejectsBadShape(t *testing.T) {
	for _, in := range []string{"no json here", `{"deck":[]}`, `{"slides": 3}`} {
		_, err := ParseSlides(in)
		assert.ErrorIs(t, err, ErrNoSlides, in)
	}
}

func TestSiteURL(t *testing.T) {
	assert.Equal(t, "https://gsa.gov", siteURL(" gsa.gov "))
	assert.Equal(t, "http://x.gov/a", siteURL("http://x.gov/a"))
	assert.Equal(t, "", siteURL(""))
}
