package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/config"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// scriptedProvider fails the first failures attempts, optionally after
// emitting text, then succeeds.
type scriptedProvider struct {
	failures  int
	failErr   error
	textFirst bool
	calls     int
}

func (p *scriptedProvider) Name() string               { return "scripted" }
func (p *scriptedProvider) Capabilities() Capabilities { return Capabilities{} }

func (p *scriptedProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.calls++
	attempt := p.calls
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if attempt <= p.failures {
			if p.textFirst {
				events <- Event{Type: EventTextDelta, Text: "partial"}
			}
			return p.failErr
		}
		events <- Event{Type: EventTextDelta, Text: "answer"}
		events <- Event{Type: EventCitations, Citations: []stream.Citation{{URI: "https://acquisition.gov", Title: "FAR"}}}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	inner := &scriptedProvider{failures: 2, failErr: errors.New("529 overloaded")}
	p := WrapWithRetry(inner, fastRetry(3))

	var retries int
	snap, err := collectCounting(t, p, &retries)
	require.NoError(t, err)
	assert.Equal(t, "answer", snap.Text)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, retries)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	inner := &scriptedProvider{failures: 5, failErr: errors.New("400 invalid request")}
	_, err := Collect(context.Background(), WrapWithRetry(inner, fastRetry(3)), Request{Messages: []Message{UserText("q")}})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryDoesNotRepeatDeliveredText(t *testing.T) {
	inner := &scriptedProvider{failures: 1, failErr: errors.New("connection reset"), textFirst: true}
	snap, err := Collect(context.Background(), WrapWithRetry(inner, fastRetry(3)), Request{Messages: []Message{UserText("q")}})
	require.Error(t, err)
	assert.Equal(t, "partial", snap.Text)
	assert.Equal(t, stream.StateFailed, snap.State)
	assert.Equal(t, 1, inner.calls)
}

func collectCounting(t *testing.T, p Provider, retries *int) (stream.Snapshot, error) {
	t.Helper()
	agg := stream.NewAggregator()
	err := Drain(context.Background(), p, Request{Messages: []Message{UserText("q")}}, func(ev Event) error {
		switch ev.Type {
		case EventRetry:
			*retries++
		case EventTextDelta:
			agg.Apply(stream.Chunk{Text: ev.Text})
		case EventCitations:
			agg.AddCitations(ev.Citations)
		}
		return nil
	})
	agg.Close()
	return agg.Snapshot(), err
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("status 429 Too Many Requests"), true},
		{errors.New("RESOURCE_EXHAUSTED"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("401 unauthorized"), false},
		{context.Canceled, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryable(tt.err), "%v", tt.err)
	}
}

func TestCalculateBackoffHonoursRetryAfter(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}}
	assert.Equal(t, 4*time.Second, r.calculateBackoff(1, errors.New("rate limited, retry-after: 4")))
	assert.Equal(t, 10*time.Second, r.calculateBackoff(1, errors.New("Retry-After 120")))

	b := r.calculateBackoff(2, errors.New("503"))
	assert.GreaterOrEqual(t, b, 1500*time.Millisecond)
	assert.LessOrEqual(t, b, 2500*time.Millisecond)
}

func TestCollectAggregatesCitations(t *testing.T) {
	snap, err := Collect(context.Background(), &scriptedProvider{}, Request{Messages: []Message{UserText("q")}})
	require.NoError(t, err)
	assert.Equal(t, "answer", snap.Text)
	assert.Equal(t, []stream.Citation{{URI: "https://acquisition.gov", Title: "FAR"}}, snap.Citations)
	assert.Equal(t, stream.StateClosed, snap.State)
}

func TestWithRateLimitWaitsForToken(t *testing.T) {
	p := WithRateLimit(&scriptedProvider{}, 60)
	_, err := Collect(context.Background(), p, Request{Messages: []Message{UserText("q")}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Stream(ctx, Request{})
	require.Error(t, err, "second request inside the same second must wait past the deadline")
}

func TestSanitizeAnswer(t *testing.T) {
	in := "Before\n<invoke name=\"mcp\">\n<parameter>x</parameter>\n</invoke>\nAfter  "
	assert.Equal(t, "Before\n\nAfter", SanitizeAnswer(in))
	assert.Equal(t, "plain", SanitizeAnswer("  plain "))
}

func TestSplitSystem(t *testing.T) {
	system, msgs := splitSystem(Request{
		System:   "base",
		Messages: []Message{SystemText("extra"), UserText("hi"), AssistantText("hello")},
	})
	assert.Equal(t, "base\n\nextra", system)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Text())
}

func TestBuildMessagesSkipEmptyText(t *testing.T) {
	req := Request{Messages: []Message{UserText(""), UserText("question")}}

	_, anth := buildAnthropicMessages(req)
	assert.Len(t, anth, 1)

	_, contents := buildGeminiContents(Request{Messages: []Message{UserText("q"), AssistantText("a")}})
	require.Len(t, contents, 2)
	assert.Equal(t, genai.RoleModel, contents[1].Role)

	assert.Nil(t, buildOpenAIMessages(Request{System: "s", Messages: []Message{AssistantText("a")}}))
	assert.Len(t, buildOpenAIMessages(Request{System: "s", Messages: []Message{UserText("q")}}), 2)
}

func TestGroundingCitations(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "https://gsa.gov", Title: "GSA"}},
			{Web: &genai.GroundingChunkWeb{URI: ""}},
			{},
		}},
	}}}
	assert.Equal(t, []stream.Citation{{URI: "https://gsa.gov", Title: "GSA"}}, groundingCitations(resp))
}

func TestParseProviderModel(t *testing.T) {
	p, m, err := ParseProviderModel("anthropic:claude-opus")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderClaude, p)
	assert.Equal(t, "claude-opus", m)

	p, m, err = ParseProviderModel("gemini")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderGemini, p)
	assert.Empty(t, m)

	_, _, err = ParseProviderModel("llama")
	assert.Error(t, err)
}

func TestNewProviderRequiresKey(t *testing.T) {
	cfg := &config.Config{Provider: config.ProviderOpenAI}
	_, err := NewProvider(cfg)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	cfg.Providers.OpenAI.APIKey = "sk-test"
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.Contains(t, p.Name(), "OpenAI")
}
