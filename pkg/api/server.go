/*
rtbtree inspection API

A read-only HTTP surface over a single open tree: point lookups, range/
operator search, and tree statistics. Nothing here mutates the tree —
writes go through pkg/rtree directly (via cmd/rtbtreectl or an embedding
application), matching spec.md §1's framing of the tree as an embedded
library rather than a standalone service.

Version: 1.0.0
Host: localhost:8080
BasePath: /api/v1

SecurityDefinitions:
  - ApiKeyAuth:
    type: apiKey
    in: header
    name: X-API-Key

swagger:meta
*/
package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ssargent/rtbtree/pkg/rtree"
)

// StartServer starts the HTTP inspection server over tr with all routes
// configured.
func StartServer(tr *rtree.Tree, config ServerConfig) error {
	metrics := NewMetrics()
	server := NewServer(tr, config, metrics)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.InstrumentAuthMiddleware(apiKeyMiddleware(config.APIKey)))

		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", server.handleHealth))
		r.Get("/keys/{key}", metrics.InstrumentHandler("GET", "/api/v1/keys/{key}", server.handleFind))
		r.Get("/range", metrics.InstrumentHandler("GET", "/api/v1/range", server.handleRange))
		r.Get("/search", metrics.InstrumentHandler("GET", "/api/v1/search", server.handleSearch))
		r.Get("/stats", metrics.InstrumentHandler("GET", "/api/v1/stats", server.handleStats))
	})

	// Swagger documentation (unprotected)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", config.Port)),
	))

	addr := fmt.Sprintf(":%d", config.Port)
	fmt.Printf("Starting rtbtree inspection API on %s\n", addr)
	fmt.Printf("Metrics available at: http://localhost:%d/metrics\n", config.Port)
	log.Fatal(http.ListenAndServe(addr, r))

	return nil
}
