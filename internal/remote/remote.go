// Package remote holds the HTTP collaborators of the engine. Every call goes
// through the offline layer, so content keeps working without a network and
// volatile endpoints degrade to empty payloads.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lifeline-edge/triage/internal/offline"
)

var (
	ErrContentUnavailable = errors.New("content unavailable")
	ErrUnreachable        = errors.New("remote unreachable")
	ErrMalformed          = errors.New("malformed response")
)

// Fetcher is satisfied by *offline.Layer.
type Fetcher interface {
	Fetch(ctx context.Context, req offline.Request) (offline.Response, error)
}

// DefaultTimeout bounds a single remote call when the caller sets none.
const DefaultTimeout = 8 * time.Second

type caller struct {
	fetcher Fetcher
	url     string
	timeout time.Duration
}

func newCaller(f Fetcher, url string, timeout time.Duration) caller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return caller{fetcher: f, url: strings.TrimRight(url, "/"), timeout: timeout}
}

// post sends v as JSON and decodes a 2xx response into out.
func (c caller) post(ctx context.Context, path string, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.fetcher.Fetch(ctx, offline.Request{
		Method: http.MethodPost,
		URL:    c.url + path,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.Status)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c caller) get(ctx context.Context, path string, class offline.Class) (offline.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.fetcher.Fetch(ctx, offline.Request{
		Method: http.MethodGet,
		URL:    c.url + path,
		Header: http.Header{"Accept": {"application/json"}},
		Class:  class,
	})
}
