package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
	"github.com/lifeline-edge/triage/internal/remote"
)

// headerOrigin reports which tier of the offline layer answered.
const headerOrigin = "X-Cache-Origin"

// originEmbedded marks answers built from the compiled-in catalog after
// every cache tier and the network missed.
const originEmbedded = "embedded"

func writeCached(w http.ResponseWriter, r *http.Request, resp offline.Response) {
	etag := `"` + resp.Digest + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set(headerOrigin, string(resp.Origin))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	ct := resp.ContentType
	if ct == "" {
		ct = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func handleHazards(content *remote.Content, catalog *hazard.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := content.Raw(r.Context(), "/hazards")
		if err != nil {
			w.Header().Set(headerOrigin, originEmbedded)
			writeJSON(w, http.StatusOK, catalog.Slugs())
			return
		}
		writeCached(w, r, resp)
	}
}

func handleHazardsMeta(content *remote.Content, catalog *hazard.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := content.Raw(r.Context(), "/hazards-meta")
		if err != nil {
			w.Header().Set(headerOrigin, originEmbedded)
			writeJSON(w, http.StatusOK, catalog.Meta())
			return
		}
		writeCached(w, r, resp)
	}
}

func handleHazardContent(content *remote.Content, catalog *hazard.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		locale := catalog.Locale(r.URL.Query().Get("lang"))

		resp, err := content.Raw(r.Context(), remote.TreePath(slug, locale))
		if err != nil {
			writeError(w, http.StatusNotFound, "no content")
			return
		}
		writeCached(w, r, resp)
	}
}

func handleWarnings(logger *slog.Logger, warnings *remote.Warnings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if warnings == nil {
			w.Header().Set(headerOrigin, string(offline.FromEmpty))
			writeJSON(w, http.StatusOK, []json.RawMessage{})
			return
		}

		list, origin, err := warnings.List(r.Context())
		if err != nil {
			logger.Warn("warnings feed unusable", "error", err)
		}
		if list == nil {
			list, origin = []json.RawMessage{}, offline.FromEmpty
		}
		w.Header().Set(headerOrigin, string(origin))
		writeJSON(w, http.StatusOK, list)
	}
}
