// Package metrics holds Prometheus instruments used across the service.  All
// collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes.  Error outcomes reuse the tenant error kind names.
const (
	OutcomeResolved = "resolved"
	OutcomeSkipped  = "skipped"
)

var (
	TenantResolutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolution_total",
			Help: "Tenant resolution attempts by outcome.",
		}, []string{"outcome"})

	ActiveTenantConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_connections_active",
			Help: "Number of tenant database handles currently pooled.",
		})

	TenantConnectionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_connections_opened_total",
			Help: "Cumulative number of tenant database handles opened.",
		})

	TenantConnectionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_connection_errors_total",
			Help: "Cumulative number of failed tenant database opens.",
		})

	TenantConnectionsInvalidatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_connections_invalidated_total",
			Help: "Cumulative number of tenant handles dropped after a failure.",
		})

	CatalogReconnectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_reconnect_total",
			Help: "Catalog connection recreations after a failed ping.",
		})

	CatalogCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_total",
			Help: "Catalog lookup cache results.",
		}, []string{"result"})

	RepositoryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_cache_total",
			Help: "Repository factory cache results (hit, miss, stale).",
		}, []string{"result"})

	BookkeepingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_bookkeeping_errors_total",
			Help: "Failed last_accessed updates (logged and ignored).",
		})
)

func init() {
	prometheus.MustRegister(
		TenantResolutionTotal,
		ActiveTenantConnections,
		TenantConnectionsOpenedTotal,
		TenantConnectionErrorsTotal,
		TenantConnectionsInvalidatedTotal,
		CatalogReconnectTotal,
		CatalogCacheTotal,
		RepositoryCacheTotal,
		BookkeepingErrorsTotal,
	)
}
