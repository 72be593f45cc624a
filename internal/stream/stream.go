// Package stream delivers answers to follow-up questions as an ordered
// sequence of chunks. Upstream server-sent events are relayed as they
// arrive; if the stream cannot be opened or breaks, one plain request is
// made instead and its answer replaces whatever was delivered so far.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lifeline-edge/triage/internal/offline"
)

var (
	ErrUpstream    = errors.New("upstream answer failed")
	ErrEmptyAnswer = errors.New("empty answer")
)

// Chunk is one piece of an answer. A chunk with Replace set discards every
// earlier chunk of the same answer.
type Chunk struct {
	Text    string `json:"text"`
	Replace bool   `json:"replace,omitempty"`
}

type Source string

const (
	SourceStream   Source = "stream"
	SourceFallback Source = "fallback"
	SourceLocal    Source = "local"
)

// Meta terminates an answer.
type Meta struct {
	UsedNodes []string `json:"used_nodes"`
	Source    Source   `json:"source"`
}

type Question struct {
	Hazard   string `json:"slug" validate:"required"`
	Question string `json:"question" validate:"required"`
	Locale   string `json:"lang,omitempty"`
	Context  string `json:"context,omitempty"`
}

// Emit receives chunks in order. Returning an error stops the answer.
type Emit func(Chunk) error

// Fetcher is satisfied by *offline.Layer.
type Fetcher interface {
	Fetch(ctx context.Context, req offline.Request) (offline.Response, error)
}

type Options struct {
	// HTTP opens the event stream. It must not buffer response bodies.
	HTTP *http.Client
	// Fetcher sends the single fallback request.
	Fetcher   Fetcher
	StreamURL string
	AnswerURL string
	Logger    *slog.Logger
}

type Client struct {
	http      *http.Client
	fetcher   Fetcher
	streamURL string
	answerURL string
	logger    *slog.Logger
}

func NewClient(opts Options) *Client {
	if opts.HTTP == nil {
		opts.HTTP = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:      opts.HTTP,
		fetcher:   opts.Fetcher,
		streamURL: opts.StreamURL,
		answerURL: opts.AnswerURL,
		logger:    opts.Logger,
	}
}

// Answer relays the upstream stream to emit, falling back to one plain
// request. Errors from emit are returned unchanged.
func (c *Client) Answer(ctx context.Context, q Question, emit Emit) (Meta, error) {
	var emitErr error
	guarded := func(ch Chunk) error {
		if err := emit(ch); err != nil {
			emitErr = err
			return err
		}
		return nil
	}

	meta, err := c.stream(ctx, q, guarded)
	if err == nil {
		meta.Source = SourceStream
		return meta, nil
	}
	if emitErr != nil {
		return Meta{}, emitErr
	}
	if ctx.Err() != nil {
		return Meta{}, ctx.Err()
	}
	c.logger.Warn("answer stream failed, falling back", "hazard", q.Hazard, "error", err)

	answer, used, err := c.fallback(ctx, q)
	if err != nil {
		return Meta{}, err
	}
	if err := emit(Chunk{Text: answer, Replace: true}); err != nil {
		return Meta{}, err
	}
	return Meta{UsedNodes: used, Source: SourceFallback}, nil
}

func (c *Client) stream(ctx context.Context, q Question, emit Emit) (Meta, error) {
	if c.streamURL == "" {
		return Meta{}, fmt.Errorf("%w: no stream endpoint", ErrUpstream)
	}
	body, err := json.Marshal(q)
	if err != nil {
		return Meta{}, fmt.Errorf("encoding question: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, bytes.NewReader(body))
	if err != nil {
		return Meta{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Meta{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return Meta{}, fmt.Errorf("%w: content type %q", ErrUpstream, ct)
	}
	return readEvents(resp.Body, emit)
}

// readEvents parses a server-sent event stream. Unnamed events carry
// answer text; "meta" ends the answer and "error" fails it. A stream that
// ends without meta or [DONE] counts as broken.
func readEvents(r io.Reader, emit Emit) (Meta, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		event string
		data  []string
	)
	for sc.Scan() {
		line := sc.Text()
		if line != "" {
			switch {
			case strings.HasPrefix(line, ":"):
				// comment or keep-alive
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				v := strings.TrimPrefix(line, "data:")
				data = append(data, strings.TrimPrefix(v, " "))
			}
			continue
		}
		if len(data) == 0 && event == "" {
			continue
		}
		payload := strings.Join(data, "\n")
		name := event
		event, data = "", nil

		switch name {
		case "meta":
			var m Meta
			if err := json.Unmarshal([]byte(payload), &m); err != nil {
				return Meta{}, fmt.Errorf("%w: bad meta: %v", ErrUpstream, err)
			}
			return m, nil
		case "error":
			return Meta{}, fmt.Errorf("%w: %s", ErrUpstream, payload)
		case "", "message":
			if payload == "[DONE]" {
				return Meta{}, nil
			}
			if err := emit(Chunk{Text: payload}); err != nil {
				return Meta{}, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return Meta{}, fmt.Errorf("%w: stream ended early", ErrUpstream)
}

type answerResponse struct {
	Answer    string   `json:"answer"`
	UsedNodes []string `json:"used_nodes"`
}

func (c *Client) fallback(ctx context.Context, q Question) (string, []string, error) {
	if c.fetcher == nil || c.answerURL == "" {
		return "", nil, fmt.Errorf("%w: no answer endpoint", ErrUpstream)
	}
	body, err := json.Marshal(q)
	if err != nil {
		return "", nil, fmt.Errorf("encoding question: %w", err)
	}
	resp, err := c.fetcher.Fetch(ctx, offline.Request{
		Method: http.MethodPost,
		URL:    c.answerURL,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.Status != http.StatusOK {
		return "", nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.Status)
	}
	var out answerResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return "", nil, ErrEmptyAnswer
	}
	return out.Answer, out.UsedNodes, nil
}
