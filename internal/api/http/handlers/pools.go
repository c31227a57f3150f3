package handlers

import (
	"net/http"

	"whalewatch/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// Pool returns the latest tracked state of one pool.
func (h *Handler) Pool(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	state, ok := h.Cache.Get(address)
	if !ok {
		if err := httputil.Error(w, r, http.StatusNotFound, "not_found", "pool is not tracked", nil); err != nil {
			h.Log.Errorf("Pool handler error: %s", err.Error())
		}
		return
	}

	if err := httputil.JSON(w, http.StatusOK, state, nil); err != nil {
		h.Log.Errorf("Pool handler error: %s", err.Error())
	}
}
