package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
)

// Content reads hazard metadata and decision trees from the content origin.
// The offline layer serves them cache-first.
type Content struct {
	c caller
}

func NewContent(f Fetcher, baseURL string, timeout time.Duration) *Content {
	return &Content{c: newCaller(f, baseURL, timeout)}
}

// Raw fetches path below the origin and fails with ErrContentUnavailable
// unless the response is a 2xx document.
func (ct *Content) Raw(ctx context.Context, path string) (offline.Response, error) {
	resp, err := ct.c.get(ctx, path, offline.ClassAuto)
	if err != nil {
		return offline.Response{}, fmt.Errorf("%s: %w: %v", path, ErrContentUnavailable, err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return offline.Response{}, fmt.Errorf("%s: %w: status %d", path, ErrContentUnavailable, resp.Status)
	}
	return resp, nil
}

func TreePath(slug, locale string) string {
	return "/hazard-content/" + url.PathEscape(slug) + "?lang=" + url.QueryEscape(locale)
}

// Tree loads the decision tree for slug in locale.
func (ct *Content) Tree(ctx context.Context, slug, locale string) (hazard.Tree, offline.Origin, error) {
	resp, err := ct.Raw(ctx, TreePath(slug, locale))
	if err != nil {
		return nil, "", err
	}
	tree, err := hazard.ParseTree(resp.Body)
	if err != nil {
		return nil, resp.Origin, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return tree, resp.Origin, nil
}

func (ct *Content) Hazards(ctx context.Context) ([]string, error) {
	var out []string
	if err := ct.decode(ctx, "/hazards", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (ct *Content) Meta(ctx context.Context) (map[string]hazard.Meta, error) {
	var out map[string]hazard.Meta
	if err := ct.decode(ctx, "/hazards-meta", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (ct *Content) decode(ctx context.Context, path string, v any) error {
	resp, err := ct.Raw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%s: %w: %v", path, ErrMalformed, err)
	}
	return nil
}

// Warnings reads the live warnings feed. It never fails for network
// reasons: offline it returns the last cached list or an empty one.
type Warnings struct {
	c caller
}

func NewWarnings(f Fetcher, feedURL string, timeout time.Duration) *Warnings {
	return &Warnings{c: newCaller(f, feedURL, timeout)}
}

// List returns the raw warning objects and where they came from.
func (wr *Warnings) List(ctx context.Context) ([]json.RawMessage, offline.Origin, error) {
	resp, err := wr.c.get(ctx, "", offline.ClassVolatile)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.Status != http.StatusOK || resp.Origin == offline.FromEmpty {
		return []json.RawMessage{}, resp.Origin, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return []json.RawMessage{}, resp.Origin, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if out == nil {
		out = []json.RawMessage{}
	}
	return out, resp.Origin, nil
}
