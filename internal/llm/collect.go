package llm

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/jonbmost/acquisition-assistant/internal/stream"
)

// Collect runs req to completion and returns the aggregated answer.
// On failure the partial snapshot is returned with the error.
func Collect(ctx context.Context, p Provider, req Request) (stream.Snapshot, error) {
	agg := stream.NewAggregator()
	err := Drain(ctx, p, req, func(ev Event) error {
		switch ev.Type {
		case EventTextDelta:
			agg.Apply(stream.Chunk{Text: ev.Text})
		case EventCitations:
			agg.AddCitations(ev.Citations)
		}
		return nil
	})
	if err != nil {
		agg.Fail()
		return agg.Snapshot(), err
	}
	agg.Close()
	return agg.Snapshot(), nil
}

// Drain streams req and calls fn for every event until the stream ends.
// A non-nil return from fn stops the stream.
func Drain(ctx context.Context, p Provider, req Request, fn func(Event) error) error {
	s, err := p.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Type == EventDone {
			return nil
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

var mcpInvokeRe = regexp.MustCompile(`(?is)<invoke name="mcp">.*?</invoke>`)

// SanitizeAnswer strips tool invocation markup that models occasionally
// echo into their answer text.
func SanitizeAnswer(text string) string {
	return strings.TrimSpace(mcpInvokeRe.ReplaceAllString(text, ""))
}
