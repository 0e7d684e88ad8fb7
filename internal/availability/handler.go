package availability

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/tenancy"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// Handler serves availability queries for the tenant in the request context.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// GetDay handles GET /employees/{employeeID}/availability?service_id=&date=
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
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

	day, err := h.engine.Day(r.Context(), tenantID, chi.URLParam(r, "employeeID"), r.URL.Query().Get("service_id"), date)
	if err != nil {
		h.logFailure(err, "availability query failed", tenantID)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// GetRange handles GET /employees/{employeeID}/availability/range?service_id=&start_date=&end_date=
func (h *Handler) GetRange(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		WriteError(w, invalid("tenant_id", "required"))
		return
	}
	q := r.URL.Query()
	start, err := calendar.ParseDate(q.Get("start_date"))
	if err != nil {
		WriteError(w, invalid("start_date", "expected YYYY-MM-DD"))
		return
	}
	end, err := calendar.ParseDate(q.Get("end_date"))
	if err != nil {
		WriteError(w, invalid("end_date", "expected YYYY-MM-DD"))
		return
	}

	days, err := h.engine.Range(r.Context(), tenantID, chi.URLParam(r, "employeeID"), q.Get("service_id"), start, end)
	if err != nil {
		h.logFailure(err, "availability range query failed", tenantID)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (h *Handler) logFailure(err error, msg, tenantID string) {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return
	}
	h.logger.Error(msg, "tenant_id", tenantID, "error", err)
}

// WriteError renders validation and not-found errors with their status
// codes and anything else as a 500.
func WriteError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	var nerr *NotFoundError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "field": verr.Field, "reason": verr.Reason})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "kind": nerr.Kind, "id": nerr.ID})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
