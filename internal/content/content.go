// Package content is the origin for hazard metadata and decision trees.
// The offline layer precaches from it, so every response is deterministic
// and carries a digest ETag.
package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
)

//go:embed trees/*.json
var embedded embed.FS

var embeddedTrees = mustSub(embedded, "trees")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(fmt.Sprintf("content: embedded trees: %v", err))
	}
	return sub
}

// ErrNotFound is returned when no tree exists for a hazard in any locale.
var ErrNotFound = errors.New("no content")

type Handler struct {
	catalog *hazard.Catalog
	trees   fs.FS
	logger  *slog.Logger
}

// NewHandler serves trees from the embedded set.
func NewHandler(logger *slog.Logger, catalog *hazard.Catalog) *Handler {
	return NewHandlerFS(logger, catalog, embeddedTrees)
}

// NewHandlerFS serves trees named <slug>.<locale>.json from trees.
func NewHandlerFS(logger *slog.Logger, catalog *hazard.Catalog, trees fs.FS) *Handler {
	return &Handler{catalog: catalog, trees: trees, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/hazards", h.hazards)
	r.Get("/hazards-meta", h.meta)
	r.Get("/hazard-content/{slug}", h.tree)
	return r
}

// Tree returns the raw tree document for slug, trying locale first and the
// catalog's default locale second. The served locale is returned with it.
func (h *Handler) Tree(slug, locale string) ([]byte, string, error) {
	if _, ok := h.catalog.Category(slug); !ok {
		return nil, "", fmt.Errorf("hazard %q: %w", slug, ErrNotFound)
	}
	candidates := []string{locale}
	if def := h.catalog.DefaultLocale; def != locale {
		candidates = append(candidates, def)
	}
	for _, loc := range candidates {
		if loc == "" {
			continue
		}
		data, err := fs.ReadFile(h.trees, slug+"."+loc+".json")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("reading tree %s.%s: %w", slug, loc, err)
		}
		return data, loc, nil
	}
	return nil, "", fmt.Errorf("tree %s: %w", slug, ErrNotFound)
}

func (h *Handler) hazards(w http.ResponseWriter, r *http.Request) {
	h.writeDoc(w, r, h.catalog.Slugs())
}

func (h *Handler) meta(w http.ResponseWriter, r *http.Request) {
	h.writeDoc(w, r, h.catalog.Meta())
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	data, locale, err := h.Tree(slug, r.URL.Query().Get("lang"))
	if errors.Is(err, ErrNotFound) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no content"}`))
		return
	}
	if err != nil {
		h.logger.Error("reading tree", "slug", slug, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Language", locale)
	h.write(w, r, data)
}

func (h *Handler) writeDoc(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encoding document", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.write(w, r, data)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, data []byte) {
	etag := `"` + offline.Digest(data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Manifest lists every URL below base that the offline layer must precache:
// the hazard list, its metadata and one tree per hazard and locale. Trees are
// optional since not every hazard has one.
func Manifest(base string, catalog *hazard.Catalog) []offline.ManifestItem {
	items := []offline.ManifestItem{
		{URL: base + "/hazards"},
		{URL: base + "/hazards-meta"},
	}
	for _, slug := range catalog.Slugs() {
		for _, loc := range catalog.Locales {
			items = append(items, offline.ManifestItem{
				URL:      TreeURL(base, slug, loc),
				Optional: true,
			})
		}
	}
	return items
}

// TreeURL is the origin URL of one hazard tree.
func TreeURL(base, slug, locale string) string {
	return base + "/hazard-content/" + url.PathEscape(slug) + "?lang=" + url.QueryEscape(locale)
}
