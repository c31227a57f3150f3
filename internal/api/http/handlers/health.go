package handlers

import (
	"context"
	"net/http"
	"time"

	"whalewatch/pkg/httputil"
)

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	processed, whales, malformed := h.Pipeline.Stats()

	err := httputil.JSON(w, http.StatusOK, map[string]any{
		"events_processed": processed,
		"whales_detected":  whales,
		"events_malformed": malformed,
		"pools_tracked":    h.Cache.Len(),
	}, nil)
	if err != nil {
		h.Log.Errorf("Healthz handler error: %s", err.Error())
	}
}

// Readiness checks external dependencies, 503 while any of them is down.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		err := httputil.Error(w, r, http.StatusServiceUnavailable,
			"dependencies_unhealthy", "dependencies check failed", failed)
		if err != nil {
			h.Log.Errorf("Readiness handler error: %s", err.Error())
		}
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]string{"dependencies": "healthy"}, nil); err != nil {
		h.Log.Errorf("Readiness handler error: %s", err.Error())
	}
}
