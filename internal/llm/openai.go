package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements Provider using the Chat Completions API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAIProvider(apiKey, model, baseURL string, maxOutputTokens int) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model, maxTokens: maxOutputTokens}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildOpenAIMessages(req)
		if len(messages) == 0 {
			return errors.New("no user content provided")
		}

		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
			Messages: messages,
		}
		if n := maxTokens(req.MaxOutputTokens, p.maxTokens); n > 0 {
			params.MaxCompletionTokens = openai.Int(n)
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				events <- Event{Type: EventUsage, Use: &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	system, msgs := splitSystem(req)
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	hasUser := false
	for _, msg := range msgs {
		text := collectTextParts(msg.Parts)
		if text == "" {
			continue
		}
		switch msg.Role {
		case RoleUser:
			hasUser = true
			out = append(out, openai.UserMessage(text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		}
	}
	if !hasUser {
		return nil
	}
	return out
}
