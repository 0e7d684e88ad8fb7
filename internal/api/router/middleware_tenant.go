package router

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/appointment-engine/internal/tenancy"
)

const tenantHeader = "X-Tenant-Id"

// requireTenantID enforces the tenant header on tenant-scoped routes.
func requireTenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
		if tenantID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":  "validation",
				"field":  "tenant_id",
				"reason": "missing " + tenantHeader + " header",
			})
			return
		}
		ctx := tenancy.WithTenantID(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
