package server

import (
	"log/slog"
	"net/http"

	"github.com/lifeline-edge/triage/internal/offline"
)

type SyncResponse struct {
	Retired []string       `json:"retired"`
	Status  offline.Status `json:"status"`
}

func handleCacheStatus(layer *offline.Layer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := layer.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handleCacheSync precaches the manifest into the current static cache and
// retires older generations. A failed install leaves the caches untouched.
func handleCacheSync(logger *slog.Logger, layer *offline.Layer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		retired, err := layer.Sync(r.Context())
		if err != nil {
			logger.Error("cache sync failed", "error", err)
			writeError(w, http.StatusBadGateway, "sync failed")
			return
		}
		st, err := layer.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if retired == nil {
			retired = []string{}
		}
		writeJSON(w, http.StatusOK, SyncResponse{Retired: retired, Status: st})
	}
}
