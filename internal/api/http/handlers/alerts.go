package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"whalewatch/internal/alerts"
	"whalewatch/internal/api/http/mw"
	"whalewatch/internal/domain"
	"whalewatch/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type createAlertRequest struct {
	Type          domain.AlertType `json:"type"`
	Condition     domain.Condition `json:"condition"`
	Threshold     float64          `json:"threshold"`
	PoolAddress   string           `json:"pool_address,omitempty"`
	WalletAddress string           `json:"wallet_address,omitempty"`
	Enabled       *bool            `json:"enabled,omitempty"` // default true
}

// CreateAlert registers a new alert for the authenticated user.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	if userID == "" {
		if err := httputil.Error(w, r, http.StatusUnauthorized, "unauthorized", "user identity is required", nil); err != nil {
			h.Log.Errorf("CreateAlert handler error: %s", err.Error())
		}
		return
	}

	var req createAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		if err = httputil.Error(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil); err != nil {
			h.Log.Errorf("CreateAlert handler error: %s", err.Error())
		}
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	a := &domain.Alert{
		UserID:        userID,
		Type:          req.Type,
		Condition:     req.Condition,
		Threshold:     req.Threshold,
		PoolAddress:   req.PoolAddress,
		WalletAddress: req.WalletAddress,
		Enabled:       enabled,
	}

	if err := h.Alerts.Create(r.Context(), a); err != nil {
		if err2 := httputil.Error(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil); err2 != nil {
			h.Log.Errorf("CreateAlert handler error: %s", err2.Error())
		}
		return
	}

	if err := httputil.JSON(w, http.StatusCreated, a, nil); err != nil {
		h.Log.Errorf("CreateAlert handler error: %s", err.Error())
	}
}

// ListAlerts returns the authenticated user's alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	if userID == "" {
		if err := httputil.Error(w, r, http.StatusUnauthorized, "unauthorized", "user identity is required", nil); err != nil {
			h.Log.Errorf("ListAlerts handler error: %s", err.Error())
		}
		return
	}

	list := h.Alerts.List(userID)
	if err := httputil.JSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	}, nil); err != nil {
		h.Log.Errorf("ListAlerts handler error: %s", err.Error())
	}
}

// GetAlert returns one alert. Another user's alert reads as 404, ids are not
// enumerable across users.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}

	if err := httputil.JSON(w, http.StatusOK, a, nil); err != nil {
		h.Log.Errorf("GetAlert handler error: %s", err.Error())
	}
}

// SetAlertEnabled flips one alert on or off.
func (h *Handler) SetAlertEnabled(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		if err2 := httputil.Error(w, r, http.StatusBadRequest, "bad_request", "body must carry an enabled boolean", nil); err2 != nil {
			h.Log.Errorf("SetAlertEnabled handler error: %s", err2.Error())
		}
		return
	}

	if err := h.Alerts.SetEnabled(r.Context(), a.ID, *req.Enabled); err != nil {
		h.alertEngineError(w, r, "SetAlertEnabled", err)
		return
	}

	a.Enabled = *req.Enabled
	if err := httputil.JSON(w, http.StatusOK, a, nil); err != nil {
		h.Log.Errorf("SetAlertEnabled handler error: %s", err.Error())
	}
}

// DeleteAlert removes one alert.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}

	if err := h.Alerts.Delete(r.Context(), a.ID); err != nil {
		h.alertEngineError(w, r, "DeleteAlert", err)
		return
	}

	if err := httputil.JSON(w, http.StatusNoContent, nil, nil); err != nil {
		h.Log.Errorf("DeleteAlert handler error: %s", err.Error())
	}
}

// ownedAlert resolves {id} and enforces ownership. Writes the error response
// itself when it returns ok=false.
func (h *Handler) ownedAlert(w http.ResponseWriter, r *http.Request) (*domain.Alert, bool) {
	id := chi.URLParam(r, "id")

	a, found := h.Alerts.Get(id)
	if found {
		if userID := mw.UserID(r); userID != "" && a.UserID != userID {
			found = false
		}
	}
	if !found {
		if err := httputil.Error(w, r, http.StatusNotFound, "not_found", "alert not found", nil); err != nil {
			h.Log.Errorf("alert lookup error: %s", err.Error())
		}
		return nil, false
	}
	return a, true
}

func (h *Handler) alertEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	if errors.Is(err, alerts.ErrNotFound) {
		status = http.StatusNotFound
		code = "not_found"
	}
	if err2 := httputil.Error(w, r, status, code, err.Error(), nil); err2 != nil {
		h.Log.Errorf("%s handler error: %s", op, err2.Error())
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
