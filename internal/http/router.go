// Package httpapi assembles the HTTP surface: the authenticated admin API for
// ruleset, overlay, and exception management, and the executor-facing policy
// resolution endpoint.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	analyticshandler "rulegate/internal/analytics/handler"
	audithandler "rulegate/internal/audit/handler"
	exceptionhandler "rulegate/internal/exception/handler"
	overlayhandler "rulegate/internal/overlay/handler"
	"rulegate/internal/platform/middleware"
	resolverhandler "rulegate/internal/resolver/handler"
	rulesethandler "rulegate/internal/ruleset/handler"
	"rulegate/pkg/platform/httputil"
)

// Deps carries everything the router mounts.
type Deps struct {
	Rulesets   *rulesethandler.Handler
	Overlays   *overlayhandler.Handler
	Exceptions *exceptionhandler.Handler
	Analytics  *analyticshandler.Handler
	Audit      *audithandler.Handler
	Resolver   *resolverhandler.Handler

	TokenValidator middleware.TokenValidator
	Logger         *slog.Logger

	// Health reports readiness of the backing stores; nil checks pass.
	Health func(r *http.Request) error
}

// NewRouter wires the middleware chain and mounts every surface. Admin routes
// require a bearer token; the resolve endpoint is service-to-service and
// trusts the network boundary.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestMeta)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(req); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.RequireAuth(deps.TokenValidator, deps.Logger))
		deps.Rulesets.Routes(admin)
		deps.Overlays.Routes(admin)
		deps.Exceptions.Routes(admin)
		deps.Analytics.Routes(admin)
		deps.Audit.Routes(admin)
	})

	r.Route("/policy", func(policy chi.Router) {
		deps.Resolver.Routes(policy)
	})

	return r
}
