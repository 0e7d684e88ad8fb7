package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/bookings"
	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	"github.com/wolfman30/appointment-engine/internal/events"
	httpmiddleware "github.com/wolfman30/appointment-engine/internal/http/middleware"
	"github.com/wolfman30/appointment-engine/internal/tenancy"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

const adminSecret = "admin-secret"

var routerNow = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

type noopPublisher struct{}

func (noopPublisher) Publish(string, events.CanonicalEvent, ...events.EnvelopeOption) bool { return true }

func routerConfig(t *testing.T) *clinic.Config {
	t.Helper()
	cfg := &clinic.Config{
		TenantID:  "tenant-1",
		Name:      "Glow",
		Timezone:  "UTC",
		Employees: []clinic.Employee{{ID: "emp-1", Name: "Dana"}},
		Services:  []clinic.Service{{ID: "svc-botox", Name: "Botox", DurationMinutes: 30}},
	}
	rule, err := calendar.NewWorkingHoursRule("emp-1", time.Monday, calendar.MustMinute("09:00"), calendar.MustMinute("11:00"), nil, nil)
	require.NoError(t, err)
	cfg.WorkingHours = []calendar.WorkingHoursRule{rule}
	return cfg
}

func newTestRouter(t *testing.T, checks ...HealthCheck) http.Handler {
	t.Helper()
	logger := logging.Default()
	store := clinic.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), routerConfig(t)))
	repo := bookings.NewMemoryRepository(time.Second)
	engine := availability.NewEngine(store, repo, availability.WithClock(func() time.Time { return routerNow }))
	service := bookings.NewService(engine, repo, noopPublisher{}, nil, logger)

	return New(&Config{
		Logger:              logger,
		AvailabilityHandler: availability.NewHandler(engine, logger),
		BookingHandler:      bookings.NewHandler(service, logger),
		ClinicHandler:       clinic.NewHandler(store, logger),
		AdminAuthSecret:     adminSecret,
		MetricsHandler:      promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		HealthChecks:        checks,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterHealthReportsFailingDependency(t *testing.T) {
	router := newTestRouter(t,
		HealthCheck{Name: "redis", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["redis"])
	assert.Equal(t, "connection refused", resp.Checks["postgres"])
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireTenantID(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenancy.TenantIDFromContext(r.Context())
		if !ok || tenantID != "tenant-abc" {
			t.Fatalf("expected tenant id propagated, got %s / %v", tenantID, ok)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(tenantHeader, " tenant-abc ")
	rr := httptest.NewRecorder()
	requireTenantID(next).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	rr = httptest.NewRecorder()
	requireTenantID(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"field":"tenant_id"`)
}

func TestRouterAvailabilityAndBookingFlow(t *testing.T) {
	router := newTestRouter(t)

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set(tenantHeader, "tenant-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := send(http.MethodGet, "/employees/emp-1/availability?service_id=svc-botox&date=2025-12-08", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var day struct {
		Slots []struct {
			Start     string `json:"start"`
			Available bool   `json:"available"`
		} `json:"slots"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&day))
	require.Len(t, day.Slots, 4)
	assert.True(t, day.Slots[0].Available)

	rr = send(http.MethodPost, "/appointments",
		`{"employee_id":"emp-1","service_id":"svc-botox","client_id":"c-1","date":"2025-12-08","start_time":"09:00"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = send(http.MethodGet, "/employees/emp-1/availability?service_id=svc-botox&date=2025-12-08", "")
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&day))
	assert.Equal(t, "09:00", day.Slots[0].Start)
	assert.False(t, day.Slots[0].Available)

	rr = send(http.MethodGet, "/employees/emp-1/availability/range?service_id=svc-botox&start_date=2025-12-08&end_date=2025-12-09", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rng struct {
		Days []struct {
			Date      string `json:"date"`
			SlotCount int    `json:"slot_count"`
		} `json:"days"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rng))
	require.Len(t, rng.Days, 2)
	assert.Equal(t, 3, rng.Days[0].SlotCount)
	assert.Equal(t, 0, rng.Days[1].SlotCount)

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(`{}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterAdminConfigRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/config", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, httpmiddleware.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		TenantID:         "tenant-1",
	})
	signed, err := token.SignedString([]byte(adminSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-1/config", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var cfg struct {
		TenantID string `json:"tenant_id"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&cfg))
	assert.Equal(t, "tenant-1", cfg.TenantID)

	req = httptest.NewRequest(http.MethodGet, "/admin/tenants/tenant-2/config", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
