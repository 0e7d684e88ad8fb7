package bookings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/tenancy"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// Handler exposes the booking write path and appointment reads over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type bookRequest struct {
	EmployeeID string            `json:"employee_id"`
	ServiceID  string            `json:"service_id"`
	ClientID   string            `json:"client_id"`
	Date       string            `json:"date"`
	StartTime  string            `json:"start_time"`
	Status     string            `json:"status,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Book handles POST /appointments.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		WriteError(w, invalid("tenant_id", "required"))
		return
	}

	var body bookRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, invalid("body", "invalid JSON"))
		return
	}
	date, err := calendar.ParseDate(body.Date)
	if err != nil {
		WriteError(w, invalid("date", "expected YYYY-MM-DD"))
		return
	}
	start, err := calendar.ParseMinute(body.StartTime)
	if err != nil {
		WriteError(w, invalid("start_time", "expected HH:MM"))
		return
	}
	var status Status
	if body.Status != "" {
		if status, err = ParseStatus(body.Status); err != nil {
			WriteError(w, invalid("status", err.Error()))
			return
		}
	}

	appt, err := h.service.Book(r.Context(), BookRequest{
		TenantID:   tenantID,
		EmployeeID: body.EmployeeID,
		ServiceID:  body.ServiceID,
		ClientID:   body.ClientID,
		Date:       date,
		StartTime:  start,
		Status:     status,
		Metadata:   body.Metadata,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// Get handles GET /appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		WriteError(w, invalid("tenant_id", "required"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		WriteError(w, invalid("appointment_id", "expected UUID"))
		return
	}
	appt, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.logUnexpected(err, tenantID)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// ListDay handles GET /employees/{employeeID}/appointments?date=
func (h *Handler) ListDay(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		WriteError(w, invalid("tenant_id", "required"))
		return
	}
	date, err := calendar.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		WriteError(w, invalid("date", "expected YYYY-MM-DD"))
		return
	}
	appts, err := h.service.ListDay(r.Context(), tenantID, chi.URLParam(r, "employeeID"), date)
	if err != nil {
		h.logUnexpected(err, tenantID)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Transition handles POST /appointments/{appointmentID}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		WriteError(w, invalid("tenant_id", "required"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		WriteError(w, invalid("appointment_id", "expected UUID"))
		return
	}
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, invalid("body", "invalid JSON"))
		return
	}
	to, err := ParseStatus(body.Status)
	if err != nil {
		WriteError(w, invalid("status", err.Error()))
		return
	}

	appt, err := h.service.Transition(r.Context(), tenantID, id, to, body.Reason)
	if err != nil {
		h.logUnexpected(err, tenantID)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) logUnexpected(err error, tenantID string) {
	if resultLabel(err) == "error" {
		h.logger.Error("appointment request failed", "tenant_id", tenantID, "error", err)
	}
}

// WriteError maps the error taxonomy onto HTTP responses.
func WriteError(w http.ResponseWriter, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": conflict.Code})
	case errors.Is(err, ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "lock_timeout"})
	default:
		availability.WriteError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
