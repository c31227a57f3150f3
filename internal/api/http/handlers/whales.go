package handlers

import (
	"net/http"
	"strconv"

	"whalewatch/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// RecentWhales returns the newest classified whales, newest first.
// ?limit=N caps the count, default is the full ring.
func (h *Handler) RecentWhales(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			if err = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer", nil); err != nil {
				h.Log.Errorf("RecentWhales handler error: %s", err.Error())
			}
			return
		}
		limit = n
	}

	whales := h.Detector.Recent(limit)
	if err := httputil.JSON(w, http.StatusOK, map[string]any{
		"whales": whales,
		"count":  len(whales),
	}, nil); err != nil {
		h.Log.Errorf("RecentWhales handler error: %s", err.Error())
	}
}

// WhaleImpact returns the stored impact analysis for a tx hash.
func (h *Handler) WhaleImpact(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")

	ia, found, err := h.Pipeline.Impact(r.Context(), txHash)
	if err != nil {
		h.Log.Errorf("WhaleImpact lookup failed for %s: %v", txHash, err)
		if err = httputil.Error(w, r, http.StatusInternalServerError, "internal", "impact lookup failed", nil); err != nil {
			h.Log.Errorf("WhaleImpact handler error: %s", err.Error())
		}
		return
	}
	if !found {
		if err = httputil.Error(w, r, http.StatusNotFound, "not_found", "no impact analysis for this transaction", nil); err != nil {
			h.Log.Errorf("WhaleImpact handler error: %s", err.Error())
		}
		return
	}

	if err = httputil.JSON(w, http.StatusOK, ia, nil); err != nil {
		h.Log.Errorf("WhaleImpact handler error: %s", err.Error())
	}
}

// Threshold reports the current whale cutoff.
func (h *Handler) Threshold(w http.ResponseWriter, r *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, map[string]float64{
		"threshold_usd": h.Detector.Threshold(),
	}, nil); err != nil {
		h.Log.Errorf("Threshold handler error: %s", err.Error())
	}
}

// SetThreshold changes the whale cutoff at runtime. Already classified
// transactions are not revisited.
func (h *Handler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThresholdUSD float64 `json:"threshold_usd"`
	}
	if err := decodeJSON(r, &req); err != nil {
		if err = httputil.Error(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil); err != nil {
			h.Log.Errorf("SetThreshold handler error: %s", err.Error())
		}
		return
	}
	if req.ThresholdUSD <= 0 {
		if err := httputil.Error(w, r, http.StatusBadRequest, "bad_request", "threshold_usd must be positive", nil); err != nil {
			h.Log.Errorf("SetThreshold handler error: %s", err.Error())
		}
		return
	}

	h.Detector.SetThreshold(req.ThresholdUSD)

	if err := httputil.JSON(w, http.StatusOK, map[string]float64{
		"threshold_usd": req.ThresholdUSD,
	}, nil); err != nil {
		h.Log.Errorf("SetThreshold handler error: %s", err.Error())
	}
}
