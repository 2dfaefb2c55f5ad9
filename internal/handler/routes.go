// Package handler provides the gateway's HTTP handlers and route registration.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pq-gateway/internal/config"
	"pq-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// persisted queries middleware guards only the GraphQL route.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, gql *GraphQLHandler, health *HealthHandler, pq echo.MiddlewareFunc, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	e.GET(cfg.Server.GraphQLPath, gql.Handle, pq)
	e.POST(cfg.Server.GraphQLPath, gql.Handle, pq)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
