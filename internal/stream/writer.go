package stream

import (
	"encoding/json"
	"io"
	"net/http"
)

// ContentType is the media type of the NDJSON wire format.
const ContentType = "application/x-ndjson; charset=utf-8"

type outChunk struct {
	Text              string             `json:"text"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// Writer emits chunks as newline-delimited JSON, flushing after each line
// when the destination supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// WriteChunk writes one line.
func (w *Writer) WriteChunk(c Chunk) error {
	out := outChunk{Text: c.Text, Error: c.Err}
	if len(c.Citations) > 0 {
		gm := &groundingMetadata{}
		for _, cit := range c.Citations {
			gm.GroundingChunks = append(gm.GroundingChunks, groundingChunk{Web: &webSource{URI: cit.URI, Title: cit.Title}})
		}
		out.GroundingMetadata = gm
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// WriteError writes a terminal error line.
func (w *Writer) WriteError(msg string) error {
	if msg == "" {
		msg = "unknown error"
	}
	return w.WriteChunk(Chunk{Err: msg})
}
