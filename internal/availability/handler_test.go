package availability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-engine/internal/tenancy"
)

func newTestRouter(t *testing.T, withTenant bool) http.Handler {
	h := NewHandler(newTestEngine(t, beforeDecember, newFakeOccupancy()), nil)
	r := chi.NewRouter()
	if withTenant {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), "tenant-1")))
			})
		})
	}
	r.Get("/employees/{employeeID}/availability", h.GetDay)
	r.Get("/employees/{employeeID}/availability/range", h.GetRange)
	return r
}

func TestHandler_GetDay(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/employees/emp-1/availability?service_id=svc-botox&date=2025-12-08", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Date  string `json:"date"`
		Slots []struct {
			Start     string `json:"start"`
			End       string `json:"end"`
			Available bool   `json:"available"`
			Reason    string `json:"reason"`
		} `json:"slots"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "2025-12-08", body.Date)
	require.Len(t, body.Slots, 16)
	assert.Equal(t, "09:00", body.Slots[0].Start)
	assert.Equal(t, "09:30", body.Slots[0].End)
	assert.True(t, body.Slots[0].Available)
}

func TestHandler_GetDayErrors(t *testing.T) {
	tests := []struct {
		name       string
		withTenant bool
		url        string
		want       int
		errCode    string
	}{
		{"bad date", true, "/employees/emp-1/availability?service_id=svc-botox&date=12/08/2025", http.StatusBadRequest, "validation"},
		{"unknown employee", true, "/employees/emp-9/availability?service_id=svc-botox&date=2025-12-08", http.StatusNotFound, "not_found"},
		{"no tenant", false, "/employees/emp-1/availability?service_id=svc-botox&date=2025-12-08", http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestRouter(t, tt.withTenant).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.want, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.errCode, body["error"])
		})
	}
}

func TestHandler_GetRange(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/employees/emp-1/availability/range?service_id=svc-botox&start_date=2025-12-08&end_date=2025-12-14", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Days []struct {
			Date            string `json:"date"`
			HasAvailability bool   `json:"has_availability"`
			SlotCount       int    `json:"slot_count"`
		} `json:"days"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Days, 7)
	assert.Equal(t, 16, body.Days[0].SlotCount)
	assert.False(t, body.Days[6].HasAvailability)
}

func TestHandler_GetRangeTooWide(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/employees/emp-1/availability/range?service_id=svc-botox&start_date=2025-01-01&end_date=2025-12-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
