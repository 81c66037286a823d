package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Decoder turns one non-blank line of a response body into a Chunk.
// ok is false for lines that carry no content (SSE event names,
// keep-alives, end markers). A non-nil error marks the line malformed.
type Decoder interface {
	Decode(line []byte) (c Chunk, ok bool, err error)
}

// WireFormats lists the canonical names DecoderFor accepts.
func WireFormats() []string {
	return []string{"ndjson", "anthropic-sse", "openai-sse"}
}

// DecoderFor returns the decoder registered under name.
func DecoderFor(name string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ndjson", "gemini":
		return NDJSON{}, nil
	case "anthropic-sse", "claude", "anthropic":
		return AnthropicSSE{}, nil
	case "openai-sse", "openai":
		return OpenAISSE{}, nil
	}
	return nil, fmt.Errorf("unknown stream wire format %q", name)
}

var errMissingText = errors.New(`chunk has no "text" field`)

// wireChunk is the newline-delimited JSON shape exchanged with the browser.
type wireChunk struct {
	Text              *string            `json:"text"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
	Error             string             `json:"error,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks"`
}

type groundingChunk struct {
	Web *webSource `json:"web,omitempty"`
}

type webSource struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// NDJSON decodes {"text": ..., "groundingMetadata": ...} lines.
type NDJSON struct{}

func (NDJSON) Decode(line []byte) (Chunk, bool, error) {
	var w wireChunk
	if err := json.Unmarshal(line, &w); err != nil {
		return Chunk{}, false, err
	}
	if w.Text == nil && w.Error == "" {
		return Chunk{}, false, errMissingText
	}
	c := Chunk{Err: w.Error}
	if w.Text != nil {
		c.Text = *w.Text
	}
	if w.GroundingMetadata != nil {
		for _, gc := range w.GroundingMetadata.GroundingChunks {
			if gc.Web != nil && gc.Web.URI != "" {
				c.Citations = append(c.Citations, Citation{URI: gc.Web.URI, Title: gc.Web.Title})
			}
		}
	}
	return c, true, nil
}

// sseData returns the payload of an SSE "data:" line. Other SSE fields and
// comments report ok=false.
func sseData(line []byte) ([]byte, bool) {
	rest, found := bytes.CutPrefix(line, []byte("data:"))
	if !found {
		return nil, false
	}
	rest = bytes.TrimSpace(rest)
	if len(rest) == 0 || bytes.Equal(rest, []byte("[DONE]")) {
		return nil, false
	}
	return rest, true
}

// AnthropicSSE decodes the Messages API event stream, keeping only text
// deltas and error events.
type AnthropicSSE struct{}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (AnthropicSSE) Decode(line []byte) (Chunk, bool, error) {
	data, ok := sseData(line)
	if !ok {
		return Chunk{}, false, nil
	}
	var ev anthropicEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Chunk{}, false, err
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			return Chunk{Text: ev.Delta.Text}, true, nil
		}
	case "error":
		msg := "upstream error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return Chunk{Err: msg}, true, nil
	}
	return Chunk{}, false, nil
}

// OpenAISSE decodes chat-completions chunks.
type OpenAISSE struct{}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (OpenAISSE) Decode(line []byte) (Chunk, bool, error) {
	data, ok := sseData(line)
	if !ok {
		return Chunk{}, false, nil
	}
	var ch openAIChunk
	if err := json.Unmarshal(data, &ch); err != nil {
		return Chunk{}, false, err
	}
	if ch.Error != nil {
		msg := ch.Error.Message
		if msg == "" {
			msg = "upstream error"
		}
		return Chunk{Err: msg}, true, nil
	}
	var sb strings.Builder
	for _, choice := range ch.Choices {
		sb.WriteString(choice.Delta.Content)
	}
	if sb.Len() == 0 {
		return Chunk{}, false, nil
	}
	return Chunk{Text: sb.String()}, true, nil
}
