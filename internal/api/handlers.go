package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/state"
)

type handlers struct {
	st    *state.State
	paths BundlePaths
	db    HealthChecker
	log   zerolog.Logger
}

// gtfsZip serves the current static bundle; 404 until the first build.
func (h *handlers) gtfsZip(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(h.paths.Zip); err != nil {
		http.Error(w, "bundle not built yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename=gtfs.zip`)
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, h.paths.Zip)
}

// gtfsRealtime serves the realtime feed in wire format. Serialization runs
// under the feed mutex so a concurrent replacement is never half-visible.
func (h *handlers) gtfsRealtime(w http.ResponseWriter, r *http.Request) {
	data, err := h.st.Feed.Marshal()
	if err != nil {
		h.log.Error().Err(err).Msg("feed serialization failed")
		http.Error(w, "feed serialization failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// gtfsVersion serves the current bundle version; 404 until the first build.
func (h *handlers) gtfsVersion(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.paths.Version)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "version file not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": strings.TrimSpace(string(data))})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.HealthCheck(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":        status,
		"feed_entities": h.st.Feed.EntityCount(),
		"queue_depth":   h.st.Queue.Len(),
	})
}
