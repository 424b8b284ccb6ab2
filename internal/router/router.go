package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bidpackuk/backend/internal/handlers"
	"github.com/bidpackuk/backend/internal/middleware"
	"github.com/bidpackuk/backend/internal/schema"
)

// HealthCheck reports whether backing services are reachable. It may be nil.
type HealthCheck func(ctx context.Context) error

// New returns an http.Handler that serves the API under /api/v1 plus
// /metrics and /healthz.
func New(
	tenant *handlers.TenantHandler,
	admin *handlers.AdminHandler,
	tokens middleware.TokenValidator,
	schemas middleware.BodyValidator,
	metrics http.Handler,
	health HealthCheck,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	authn := middleware.Authenticate(tokens)
	member := func(h http.HandlerFunc) http.Handler {
		return authn(middleware.RequireOrg(h))
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return authn(middleware.RequireAdmin(h))
	}
	body := func(name string, h http.HandlerFunc) http.HandlerFunc {
		return middleware.ValidateBody(schemas, name)(h).ServeHTTP
	}

	// Tenant
	mux.Handle("GET "+base+"/acu/balance", member(tenant.GetBalance))
	mux.Handle("GET "+base+"/acu/ledger", member(tenant.ListLedger))
	mux.Handle("POST "+base+"/ai/quote", member(body(schema.AIQuote, tenant.Quote)))
	mux.Handle("POST "+base+"/ai/execute", member(body(schema.AIExecute, tenant.Execute)))
	mux.Handle("GET "+base+"/ai/history", member(tenant.ListHistory))
	mux.Handle("GET "+base+"/subscription", member(tenant.GetSubscription))
	mux.Handle("GET "+base+"/plans", authn(http.HandlerFunc(tenant.ListPlans)))

	// Admin
	adm := base + "/admin"
	mux.Handle("GET "+adm+"/ai-settings", adminOnly(admin.GetSettings))
	mux.Handle("PUT "+adm+"/ai-settings", adminOnly(body(schema.SettingsPatch, admin.UpdateSettings)))
	mux.Handle("GET "+adm+"/ai-settings/history", adminOnly(admin.SettingsHistory))
	mux.Handle("GET "+adm+"/abuse", adminOnly(admin.ListFlags))
	mux.Handle("POST "+adm+"/orgs/{id}/flags", adminOnly(body(schema.AbuseFlag, admin.FlagOrg)))
	mux.Handle("DELETE "+adm+"/orgs/{id}/flags", adminOnly(admin.UnflagOrg))
	mux.Handle("POST "+adm+"/orgs/{id}/suspend", adminOnly(admin.SuspendOrg))
	mux.Handle("POST "+adm+"/orgs/{id}/reinstate", adminOnly(admin.ReinstateOrg))
	mux.Handle("GET "+adm+"/orgs", adminOnly(admin.ListOrgs))
	mux.Handle("POST "+adm+"/orgs", adminOnly(body(schema.OrgCreate, admin.CreateOrg)))
	mux.Handle("GET "+adm+"/orgs/{id}", adminOnly(admin.GetOrg))
	mux.Handle("GET "+adm+"/ledger", adminOnly(admin.ListLedger))
	mux.Handle("POST "+adm+"/orgs/{id}/ledger", adminOnly(body(schema.LedgerAdjustment, admin.AdjustLedger)))
	mux.Handle("POST "+adm+"/orgs/{id}/ledger/unfreeze", adminOnly(admin.UnfreezeLedger))
	mux.Handle("POST "+adm+"/orgs/{id}/topups", adminOnly(body(schema.TopUp, admin.TopUp)))
	mux.Handle("POST "+adm+"/orgs/{id}/subscription", adminOnly(body(schema.SubscriptionCreate, admin.Subscribe)))
	mux.Handle("PATCH "+adm+"/orgs/{id}/subscription", adminOnly(body(schema.SubscriptionUpdate, admin.UpdateSubscription)))
	mux.Handle("GET "+adm+"/stats", adminOnly(admin.Stats))

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if health != nil {
			if err := health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return mux
}
