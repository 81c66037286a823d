package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const readBufferSize = 32 << 10

// UpstreamError is a failure reported in-band by the sender.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Message
}

// Reader consumes a response body with a pluggable per-line Decoder.
type Reader struct {
	decoder Decoder
	logger  *slog.Logger
}

// NewReader returns a Reader. A nil decoder means NDJSON; a nil logger
// discards output.
func NewReader(dec Decoder, logger *slog.Logger) *Reader {
	if dec == nil {
		dec = NDJSON{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{decoder: dec, logger: logger.With("component", "stream")}
}

// Consume reads body until EOF, applying every decoded line in order and
// calling onUpdate exactly once per read that returned data, after all of
// that data has been applied. Malformed lines are skipped. A line split
// across reads is joined before decoding; data returned together with
// io.EOF is applied in full, including an unterminated final line.
//
// On a read error, a cancelled context or an in-band error chunk the
// returned snapshot is FAILED and carries everything accumulated so far.
func (r *Reader) Consume(ctx context.Context, body io.Reader, onUpdate func(Snapshot)) (Snapshot, error) {
	agg := NewAggregator()
	return r.ConsumeInto(ctx, agg, body, onUpdate)
}

// ConsumeInto is Consume with a caller-supplied aggregator.
func (r *Reader) ConsumeInto(ctx context.Context, agg *Aggregator, body io.Reader, onUpdate func(Snapshot)) (Snapshot, error) {
	if onUpdate == nil {
		onUpdate = func(Snapshot) {}
	}

	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			agg.Fail()
			return agg.Snapshot(), err
		}

		n, readErr := body.Read(buf)
		eof := errors.Is(readErr, io.EOF)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var complete []byte
			if eof {
				complete, pending = pending, nil
			} else if i := bytes.LastIndexByte(pending, '\n'); i >= 0 {
				complete = pending[:i+1]
				pending = append([]byte(nil), pending[i+1:]...)
			}
			if err := r.applyAndUpdate(agg, complete, onUpdate); err != nil {
				return agg.Snapshot(), err
			}
		}

		if eof {
			// A line left unterminated by an earlier read.
			if len(bytes.TrimSpace(pending)) > 0 {
				if err := r.applyAndUpdate(agg, pending, onUpdate); err != nil {
					return agg.Snapshot(), err
				}
			}
			agg.Close()
			return agg.Snapshot(), nil
		}
		if readErr != nil {
			agg.Fail()
			return agg.Snapshot(), fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// applyAndUpdate applies data and reports the resulting snapshot once.
func (r *Reader) applyAndUpdate(agg *Aggregator, data []byte, onUpdate func(Snapshot)) error {
	err := r.applyLines(agg, data)
	if err != nil {
		agg.Fail()
	}
	onUpdate(agg.Snapshot())
	return err
}

// applyLines decodes each non-blank line. It stops at the first in-band
// error chunk and returns it.
func (r *Reader) applyLines(agg *Aggregator, data []byte) error {
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		chunk, ok, err := r.decoder.Decode(line)
		if err != nil {
			r.logger.Debug("skipping malformed stream line", "error", err, "bytes", len(line))
			continue
		}
		if !ok {
			continue
		}
		if chunk.Err != "" {
			agg.Apply(Chunk{Text: chunk.Text, Citations: chunk.Citations})
			return &UpstreamError{Message: chunk.Err}
		}
		agg.Apply(chunk)
	}
	return nil
}
