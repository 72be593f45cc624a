// Package offline is the cache synchronization layer every content fetch
// goes through. Static content is precached under a versioned cache name and
// served cache-first; volatile data is network-first with a cached or empty
// fallback so callers never fail while offline.
package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	staticPrefix  = "triage-static-"
	dynamicPrefix = "triage-data-"
)

// Versions are the two generation tags. Bumping either retires every cache
// not named after the current pair on the next Activate.
type Versions struct {
	Static  string
	Dynamic string
}

func (v Versions) StaticName() string  { return staticPrefix + v.Static }
func (v Versions) DynamicName() string { return dynamicPrefix + v.Dynamic }

type Class int

const (
	ClassAuto Class = iota
	ClassStatic
	ClassVolatile
)

// VolatileRule marks URLs whose path starts with Prefix as volatile. Empty
// is served when neither network nor cache can answer.
type VolatileRule struct {
	Prefix      string
	Empty       string
	ContentType string
}

type Rules struct {
	Volatile []VolatileRule
}

// DefaultRules covers live warnings, chat and streamed answers.
func DefaultRules() Rules {
	return Rules{Volatile: []VolatileRule{
		{Prefix: "/warnings", Empty: "[]", ContentType: "application/json"},
		{Prefix: "/api/warnings", Empty: "[]", ContentType: "application/json"},
		{Prefix: "/chat", Empty: `{"answer":""}`, ContentType: "application/json"},
		{Prefix: "/answer", Empty: `{"answer":""}`, ContentType: "application/json"},
	}}
}

func (r Rules) match(u *url.URL) (VolatileRule, bool) {
	for _, v := range r.Volatile {
		if strings.HasPrefix(u.Path, v.Prefix) {
			return v, true
		}
	}
	return VolatileRule{}, false
}

// ManifestItem is one precache URL. Optional items that the network
// reports as missing are skipped instead of failing the install.
type ManifestItem struct {
	URL      string
	Optional bool
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Class  Class
}

type Origin string

const (
	FromStatic  Origin = "static"
	FromDynamic Origin = "dynamic"
	FromNetwork Origin = "network"
	FromEmpty   Origin = "empty"
)

type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Digest      string
	Origin      Origin
}

// Stale reports whether the response did not come from a live network call.
func (r Response) Stale() bool { return r.Origin != FromNetwork }

type Status struct {
	Static         string    `json:"static"`
	Dynamic        string    `json:"dynamic"`
	StaticEntries  int       `json:"staticEntries"`
	DynamicEntries int       `json:"dynamicEntries"`
	Caches         []string  `json:"caches"`
	InstalledAt    time.Time `json:"installedAt,omitzero"`
}

type Layer struct {
	store    Store
	client   *http.Client
	manifest []ManifestItem
	versions Versions
	rules    Rules
	logger   *slog.Logger

	group        singleflight.Group
	fetchTimeout time.Duration

	mu          sync.Mutex
	installedAt time.Time
}

type Options struct {
	Store    Store
	Client   *http.Client
	Manifest []ManifestItem
	Versions Versions
	Rules    Rules
	Logger   *slog.Logger
	// FetchTimeout bounds a collapsed network fetch, which keeps running
	// when the caller that started it goes away. Zero means 30s.
	FetchTimeout time.Duration
}

const defaultFetchTimeout = 30 * time.Second

func New(opts Options) *Layer {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Layer{
		store:        opts.Store,
		client:       opts.Client,
		manifest:     opts.Manifest,
		versions:     opts.Versions,
		rules:        opts.Rules,
		logger:       opts.Logger,
		fetchTimeout: opts.FetchTimeout,
	}
}

func (l *Layer) Versions() Versions { return l.versions }

// installConcurrency bounds parallel precache downloads.
const installConcurrency = 4

// Install downloads every manifest URL and writes them into the static
// cache in one step. Any failure leaves the static cache untouched.
func (l *Layer) Install(ctx context.Context) error {
	entries := make([]*Entry, len(l.manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, item := range l.manifest {
		g.Go(func() error {
			if !cacheable(item.URL) {
				return fmt.Errorf("precache %s: unsupported scheme", item.URL)
			}
			resp, err := l.network(gctx, Request{Method: http.MethodGet, URL: item.URL})
			if err != nil {
				return fmt.Errorf("precache %s: %w", item.URL, err)
			}
			if resp.Status == http.StatusNotFound && item.Optional {
				l.logger.Debug("optional precache item missing", "url", item.URL)
				return nil
			}
			if resp.Status < 200 || resp.Status > 299 {
				return fmt.Errorf("precache %s: status %d", item.URL, resp.Status)
			}
			e := l.entry(item.URL, resp, l.versions.Static)
			entries[i] = &e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all []Entry
	for _, e := range entries {
		if e != nil {
			all = append(all, *e)
		}
	}
	if err := l.store.PutAll(ctx, l.versions.StaticName(), all); err != nil {
		return fmt.Errorf("writing static cache: %w", err)
	}

	l.mu.Lock()
	l.installedAt = time.Now()
	l.mu.Unlock()
	l.logger.Info("static cache installed", "cache", l.versions.StaticName(), "entries", len(all))
	return nil
}

// Activate deletes every cache other than the current static and dynamic
// ones and returns the deleted names.
func (l *Layer) Activate(ctx context.Context) ([]string, error) {
	names, err := l.store.Caches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing caches: %w", err)
	}
	keep := []string{l.versions.StaticName(), l.versions.DynamicName()}

	var deleted []string
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}
		if err := l.store.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("deleting cache %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	if len(deleted) > 0 {
		l.logger.Info("retired caches", "caches", deleted)
	}
	return deleted, nil
}

// Sync runs Install followed by Activate.
func (l *Layer) Sync(ctx context.Context) ([]string, error) {
	if err := l.Install(ctx); err != nil {
		return nil, err
	}
	return l.Activate(ctx)
}

// Fetch dispatches req according to its resource class.
func (l *Layer) Fetch(ctx context.Context, req Request) (Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Method != http.MethodGet {
		return l.network(ctx, req)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return Response{}, fmt.Errorf("parsing url: %w", err)
	}
	rule, volatile := l.rules.match(u)
	switch req.Class {
	case ClassStatic:
		volatile = false
	case ClassVolatile:
		volatile = true
	}

	if volatile {
		return l.networkFirst(ctx, req, rule)
	}
	return l.cacheFirst(ctx, req)
}

func (l *Layer) cacheFirst(ctx context.Context, req Request) (Response, error) {
	if cacheable(req.URL) {
		if resp, ok := l.cached(ctx, req.URL); ok {
			return resp, nil
		}
	}
	resp, err := l.sharedNetwork(ctx, req)
	if err != nil {
		return Response{}, err
	}
	l.remember(ctx, req.URL, resp)
	return resp, nil
}

func (l *Layer) networkFirst(ctx context.Context, req Request, rule VolatileRule) (Response, error) {
	resp, err := l.sharedNetwork(ctx, req)
	if err == nil && resp.Status >= 200 && resp.Status <= 299 {
		l.remember(ctx, req.URL, resp)
		return resp, nil
	}
	if err != nil {
		l.logger.Debug("volatile fetch failed", "url", req.URL, "error", err)
	}
	if cacheable(req.URL) {
		if cached, ok := l.cached(ctx, req.URL); ok {
			return cached, nil
		}
	}
	body := []byte(rule.Empty)
	if rule.Empty == "" {
		body = []byte("{}")
	}
	ct := rule.ContentType
	if ct == "" {
		ct = "application/json"
	}
	return Response{
		Status:      http.StatusOK,
		ContentType: ct,
		Body:        body,
		Digest:      Digest(body),
		Origin:      FromEmpty,
	}, nil
}

func (l *Layer) cached(ctx context.Context, key string) (Response, bool) {
	for _, c := range []struct {
		name   string
		origin Origin
	}{
		{l.versions.StaticName(), FromStatic},
		{l.versions.DynamicName(), FromDynamic},
	} {
		e, err := l.store.Get(ctx, c.name, key)
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				l.logger.Warn("cache read failed", "cache", c.name, "key", key, "error", err)
			}
			continue
		}
		return Response{
			Status:      e.Status,
			ContentType: e.ContentType,
			Body:        e.Body,
			Digest:      e.Digest,
			Origin:      c.origin,
		}, true
	}
	return Response{}, false
}

// remember stores successful responses in the dynamic cache.
func (l *Layer) remember(ctx context.Context, key string, resp Response) {
	if !cacheable(key) || resp.Status < 200 || resp.Status > 299 {
		return
	}
	e := l.entry(key, resp, l.versions.Dynamic)
	if err := l.store.Put(ctx, l.versions.DynamicName(), e); err != nil {
		l.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (l *Layer) entry(key string, resp Response, generation string) Entry {
	return Entry{
		Key:         key,
		Body:        resp.Body,
		ContentType: resp.ContentType,
		Status:      resp.Status,
		Generation:  generation,
		Digest:      resp.Digest,
		StoredAt:    time.Now().UTC(),
	}
}

// sharedNetwork collapses concurrent GETs for the same URL. The shared
// fetch is detached from any single caller; each caller stops waiting when
// its own context ends.
func (l *Layer) sharedNetwork(ctx context.Context, req Request) (Response, error) {
	ch := l.group.DoChan(req.URL, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()
		return l.network(fctx, req)
	})
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		resp := res.Val.(Response)
		resp.Body = bytes.Clone(resp.Body)
		return resp, nil
	}
}

func (l *Layer) network(ctx context.Context, req Request) (Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	hresp, err := l.client.Do(hreq)
	if err != nil {
		return Response{}, err
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading body: %w", err)
	}
	return Response{
		Status:      hresp.StatusCode,
		ContentType: hresp.Header.Get("Content-Type"),
		Body:        data,
		Digest:      Digest(data),
		Origin:      FromNetwork,
	}, nil
}

// Status reports the current cache names and their sizes.
func (l *Layer) Status(ctx context.Context) (Status, error) {
	s := Status{Static: l.versions.StaticName(), Dynamic: l.versions.DynamicName()}
	var err error
	if s.StaticEntries, err = l.store.Count(ctx, s.Static); err != nil {
		return s, fmt.Errorf("counting %s: %w", s.Static, err)
	}
	if s.DynamicEntries, err = l.store.Count(ctx, s.Dynamic); err != nil {
		return s, fmt.Errorf("counting %s: %w", s.Dynamic, err)
	}
	if s.Caches, err = l.store.Caches(ctx); err != nil {
		return s, fmt.Errorf("listing caches: %w", err)
	}
	slices.Sort(s.Caches)

	l.mu.Lock()
	s.InstalledAt = l.installedAt
	l.mu.Unlock()
	return s, nil
}

// cacheable reports whether rawURL may be written to a cache.
func cacheable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
