package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-engine/internal/tenancy"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

func TestRequestLoggerRecordsStatusAndTenant(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("debug", &buf)

	handler := chimw.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"slot_taken"}`))
	})))

	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)
	req = req.WithContext(tenancy.WithTenantID(req.Context(), "tenant-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "request completed", record["msg"])
	assert.EqualValues(t, http.StatusConflict, record["status"])
	assert.Equal(t, "tenant-1", record["tenant_id"])
	assert.Equal(t, "/appointments", record["path"])
	assert.NotEmpty(t, record["request_id"])
}

func TestRequestLoggerDefaultsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.EqualValues(t, http.StatusOK, record["status"])
	_, hasTenant := record["tenant_id"]
	assert.False(t, hasTenant)
}
