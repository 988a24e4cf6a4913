// Package router wires up the statistics API routes and applies the
// middleware chain (RequestID → CORS → Metrics → Timeout, plus APIKey on
// the CSV export routes).
package router

import (
	"net/http"
	"strings"
	"time"

	apihandler "github.com/dspace-analytics/statistics-api/internal/api/handler"
	apimw "github.com/dspace-analytics/statistics-api/internal/api/middleware"
	"github.com/dspace-analytics/statistics-api/internal/catalog"
	"github.com/dspace-analytics/statistics-api/pkg/health"
	"github.com/dspace-analytics/statistics-api/pkg/metrics"
	pkgmw "github.com/dspace-analytics/statistics-api/pkg/middleware"
)

// New builds the full HTTP handler with all routes and middleware.
//
// Route table, per kind ∈ {items, collections, communities}:
//
//	GET  /{kind}             → page of entities with statistics
//	GET  /{kind}/csv         → CSV export of all entities   (API key)
//	GET  /{kind}/{uuid}      → single entity with statistics
//	GET  /{kind}/{uuid}/csv  → CSV export of one entity     (API key)
//
// plus:
//
//	POST /stats              → repository overview facets and totals
//	GET  /health             → aggregate dependency health
//	GET  /health/live        → liveness probe
//	GET  /health/ready       → readiness probe
//
// Middleware chain (outermost first): RequestID → CORS → Metrics →
// Timeout. The CSV routes are additionally wrapped with the API key check
// so unauthorized exports are rejected before any catalog or Solr work
// starts.
func New(h *apihandler.Handler, checker *health.Checker, m *metrics.Metrics, apiKey string, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	auth := apimw.APIKey(apiKey)
	for _, kind := range []catalog.Kind{catalog.KindItem, catalog.KindCollection, catalog.KindCommunity} {
		prefix := "/" + strings.ToLower(kind.Label())

		mux.HandleFunc("GET "+prefix, h.List(kind))
		mux.HandleFunc("GET "+prefix+"/{uuid}", h.Get(kind))
		mux.Handle("GET "+prefix+"/csv", auth(h.CSV(kind)))
		mux.Handle("GET "+prefix+"/{uuid}/csv", auth(h.CSV(kind)))
	}

	mux.HandleFunc("POST /stats", h.Overview)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		checker.ReadyHandler()(w, r)
	})
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Middleware chain — applied inside-out:
	// request → RequestID → CORS → Metrics → Timeout → mux
	var chain http.Handler = mux
	if requestTimeout > 0 {
		chain = pkgmw.Timeout(requestTimeout)(chain)
	}
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	chain = apimw.CORS(apimw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
