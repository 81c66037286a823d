package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// StatusError is a non-2xx response received before any chunk was read.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client posts a JSON request and consumes the streamed response.
type Client struct {
	HTTPClient *http.Client
	Decoder    Decoder
	Logger     *slog.Logger
	// Header is added to every request, e.g. Authorization.
	Header http.Header
	// OnResponse, if set, sees the headers of a successful response before
	// the body is read.
	OnResponse func(http.Header)
}

// Post sends payload to url and streams the response through a Reader.
// Transport failures and non-2xx statuses return a FAILED snapshot.
func (c *Client) Post(ctx context.Context, url string, payload any, onUpdate func(Snapshot)) (Snapshot, error) {
	failed := Snapshot{State: StateFailed, Done: true}

	body, err := json.Marshal(payload)
	if err != nil {
		return failed, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failed, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson, text/event-stream")
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return failed, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failed, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if c.OnResponse != nil {
		c.OnResponse(resp.Header)
	}

	return NewReader(c.Decoder, c.Logger).Consume(ctx, resp.Body, onUpdate)
}

// errorMessage extracts {"error": "..."} or {"error": {"message": "..."}}
// from a failed response, falling back to the raw body.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
