// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedSessions tracks live WebSocket sessions.
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ncog_connected_sessions",
		Help: "Currently connected WebSocket sessions.",
	})

	// ConnectedAccounts tracks distinct accounts with at least one session.
	ConnectedAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ncog_connected_accounts",
		Help: "Currently connected distinct accounts.",
	})

	// PermissionChecks counts claim evaluations by result.
	PermissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncog_permission_checks_total",
			Help: "Permission checks evaluated, by result.",
		},
		[]string{"result"},
	)

	// RoleRefreshes counts background permission refreshes by result.
	RoleRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncog_role_refreshes_total",
			Help: "Account permission refreshes triggered by role updates.",
		},
		[]string{"result"},
	)
)

// Init registers the collectors with the default registry.
func Init() {
	prometheus.MustRegister(ConnectedSessions, ConnectedAccounts, PermissionChecks, RoleRefreshes)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
