package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements Provider using the Google Gemini API. Search
// requests enable the Google Search tool and report grounding chunks as
// citations.
type GeminiProvider struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
}

func NewGeminiProvider(apiKey, model, baseURL string, maxOutputTokens int) *GeminiProvider {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{apiKey: apiKey, model: model, baseURL: baseURL, maxTokens: maxOutputTokens}
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{NativeWebSearch: true}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	cfg := &genai.ClientConfig{APIKey: p.apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req)
		if len(contents) == 0 {
			return errors.New("no user content provided")
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if n := maxTokens(req.MaxOutputTokens, p.maxTokens); n > 0 {
			config.MaxOutputTokens = int32(n)
		}
		if req.Search {
			config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		}

		var lastResp *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			lastResp = resp
			if text := resp.Text(); text != "" {
				events <- Event{Type: EventTextDelta, Text: text}
			}
			if cites := groundingCitations(resp); len(cites) > 0 {
				events <- Event{Type: EventCitations, Citations: cites}
			}
		}

		emitGeminiUsage(events, lastResp)
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func groundingCitations(resp *genai.GenerateContentResponse) []stream.Citation {
	var out []stream.Citation
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				out = append(out, stream.Citation{URI: chunk.Web.URI, Title: chunk.Web.Title})
			}
		}
	}
	return out
}

func emitGeminiUsage(events chan<- Event, resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}
	if resp.UsageMetadata.TotalTokenCount > 0 {
		events <- Event{Type: EventUsage, Use: &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}}
	}
}

func buildGeminiContents(req Request) (string, []*genai.Content) {
	system, msgs := splitSystem(req)
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		text := collectTextParts(msg.Parts)
		if text == "" {
			continue
		}
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}})
	}
	return system, contents
}
