package clinic

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// Handler provides admin HTTP endpoints for tenant configuration.
type Handler struct {
	store  Writer
	logger *logging.Logger
}

// NewHandler creates a new tenant config HTTP handler.
func NewHandler(store Writer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// GetConfig returns the configuration of a tenant.
// GET /admin/tenants/{tenantID}/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id required")
		return
	}

	cfg, err := h.store.Get(r.Context(), tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get tenant config", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfigRequest is a partial update; nil fields are left unchanged.
type UpdateConfigRequest struct {
	Name                   string                        `json:"name,omitempty"`
	Timezone               string                        `json:"timezone,omitempty"`
	SlotGranularityMinutes *int                          `json:"slot_granularity_minutes,omitempty"`
	Employees              []Employee                    `json:"employees,omitempty"`
	Services               []Service                     `json:"services,omitempty"`
	WorkingHours           []calendar.WorkingHoursRule   `json:"working_hours,omitempty"`
	Exceptions             *[]calendar.CalendarException `json:"exceptions,omitempty"`
}

// UpdateConfig creates or updates the configuration of a tenant.
// PUT /admin/tenants/{tenantID}/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id required")
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := h.store.Get(r.Context(), tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		cfg, err = DefaultConfig(tenantID), nil
	}
	if err != nil {
		h.logger.Error("failed to get tenant config", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Timezone != "" {
		cfg.Timezone = req.Timezone
	}
	if req.SlotGranularityMinutes != nil {
		cfg.SlotGranularityMinutes = *req.SlotGranularityMinutes
	}
	if req.Employees != nil {
		cfg.Employees = req.Employees
	}
	if req.Services != nil {
		cfg.Services = req.Services
	}
	if req.WorkingHours != nil {
		cfg.WorkingHours = req.WorkingHours
	}
	if req.Exceptions != nil {
		cfg.Exceptions = *req.Exceptions
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("failed to save tenant config", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	h.logger.Info("tenant config updated", "tenant_id", tenantID, "employees", len(cfg.Employees), "services", len(cfg.Services))
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
