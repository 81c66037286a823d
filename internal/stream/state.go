// Package stream aggregates incrementally delivered model responses into a
// consistent snapshot of text and grounding citations.
package stream

import (
	"strings"
)

// State is the lifecycle of one streamed response.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Citation is a grounding source reported alongside model text.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Chunk is one decoded unit of a response. Err marks a terminal failure
// reported in-band by the sender.
type Chunk struct {
	Text      string
	Citations []Citation
	Err       string
}

// Snapshot is the complete aggregated view at one point in time.
type Snapshot struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	State     State      `json:"-"`
	Done      bool       `json:"done"`
}

// Aggregator accumulates chunks. Text is append-only and citations are
// kept in first-seen order, deduplicated by URI with the first title
// winning. It is not safe for concurrent use.
type Aggregator struct {
	text      strings.Builder
	citations []Citation
	seen      map[string]struct{}
	state     State
}

// NewAggregator returns an open, empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{seen: make(map[string]struct{})}
}

// Apply appends c. Chunks arriving after the stream is closed or failed
// are ignored.
func (a *Aggregator) Apply(c Chunk) {
	if a.state != StateOpen {
		return
	}
	a.text.WriteString(c.Text)
	a.AddCitations(c.Citations)
}

// AddCitations records citations whose URI has not been seen yet.
func (a *Aggregator) AddCitations(cs []Citation) {
	for _, c := range cs {
		if c.URI == "" {
			continue
		}
		if _, ok := a.seen[c.URI]; ok {
			continue
		}
		a.seen[c.URI] = struct{}{}
		a.citations = append(a.citations, c)
	}
}

// Close marks the stream as finished normally.
func (a *Aggregator) Close() {
	if a.state == StateOpen {
		a.state = StateClosed
	}
}

// Fail marks the stream as failed. Accumulated text is kept.
func (a *Aggregator) Fail() {
	if a.state == StateOpen {
		a.state = StateFailed
	}
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	return a.state
}

// Snapshot returns a copy of the current aggregate.
func (a *Aggregator) Snapshot() Snapshot {
	cs := make([]Citation, len(a.citations))
	copy(cs, a.citations)
	return Snapshot{
		Text:      a.text.String(),
		Citations: cs,
		State:     a.state,
		Done:      a.state != StateOpen,
	}
}
