package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-engine/pkg/logging"
)

func newTestRouter(store Writer) http.Handler {
	h := NewHandler(store, logging.Default())
	r := chi.NewRouter()
	r.Get("/admin/tenants/{tenantID}/config", h.GetConfig)
	r.Put("/admin/tenants/{tenantID}/config", h.UpdateConfig)
	return r
}

func TestHandler_GetConfig(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), sampleConfig(t)))
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var cfg Config
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))
	assert.Equal(t, "tenant-1", cfg.TenantID)
	assert.Len(t, cfg.Employees, 2)
}

func TestHandler_GetConfigUnknownTenant(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/nobody/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UpdateConfigCreatesTenant(t *testing.T) {
	store := NewMemoryStore()
	router := newTestRouter(store)

	body := map[string]any{
		"name":     "Fresh Clinic",
		"timezone": "UTC",
		"services": []map[string]any{
			{"id": "svc-1", "name": "Consult", "duration_minutes": 45, "buffer_after_minutes": 15},
		},
		"employees": []map[string]any{{"id": "emp-1", "name": "Sam"}},
		"working_hours": []map[string]any{
			{"employee_id": "emp-1", "weekday": 1, "is_working": true, "start_time": "09:00", "end_time": "17:00"},
		},
	}
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPut, "/admin/tenants/tenant-9/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	saved, err := store.Get(context.Background(), "tenant-9")
	require.NoError(t, err)
	assert.Equal(t, "Fresh Clinic", saved.Name)
	assert.Equal(t, "UTC", saved.Timezone)
	require.Len(t, saved.Services, 1)
	assert.Equal(t, 60, saved.Services[0].TotalOccupancy())
}

func TestHandler_UpdateConfigPartial(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), sampleConfig(t)))
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPut, "/admin/tenants/tenant-1/config", bytes.NewBufferString(`{"slot_granularity_minutes": 15}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := store.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 15, saved.SlotGranularityMinutes)
	assert.Equal(t, "Glow Clinic", saved.Name)
	assert.Len(t, saved.WorkingHours, 1)
}

func TestHandler_UpdateConfigRejectsInvalid(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"inverted hours", `{"employees":[{"id":"e"}],"working_hours":[{"employee_id":"e","weekday":1,"is_working":true,"start_time":"17:00","end_time":"09:00"}]}`, http.StatusUnprocessableEntity},
		{"zero duration service", `{"services":[{"id":"s","duration_minutes":0}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/admin/tenants/tenant-1/config", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
