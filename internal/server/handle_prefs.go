package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/prefs"
)

type FavoriteResponse struct {
	Favorites []string `json:"favorites"`
	Added     bool     `json:"added"`
}

func handleGetPrefs(store *prefs.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.Load(r.Context(), chi.URLParam(r, "device"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePutPrefs(store *prefs.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u prefs.Update
		if err := decode(r, &u); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := store.Save(r.Context(), chi.URLParam(r, "device"), u)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleResetPrefs(store *prefs.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Reset(r.Context(), chi.URLParam(r, "device")); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, prefs.Defaults())
	}
}

func handleToggleFavorite(store *prefs.Store, catalog *hazard.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if _, ok := catalog.Category(slug); !ok {
			writeError(w, http.StatusNotFound, "unknown hazard")
			return
		}

		favs, added, err := store.ToggleFavorite(r.Context(), chi.URLParam(r, "device"), slug)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, FavoriteResponse{Favorites: favs, Added: added})
	}
}
