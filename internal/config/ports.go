// Package config provides configuration management for FuturesFunk.
// This file centralizes all port constants to avoid duplication and ensure consistency.
package config

// ============================================================================
// CENTRALIZED PORT CONFIGURATION
// ============================================================================
//
// This file defines all ports used by FuturesFunk services.
// Update this file when adding new services or changing port assignments.
//
// Port Allocation Strategy:
//   8700-8799: Signal server and web services
//   8200-8299: Infrastructure services (Vault, etc.)
//   9100-9199: Prometheus metrics endpoints
//
// ============================================================================

// API and Web Service Ports
const (
	// SignalServerPort is the port for the external signal HTTP server.
	SignalServerPort = 8787
)

// Infrastructure Service Ports
const (
	// VaultPort is the default port for HashiCorp Vault.
	VaultPort = 8200

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)

// Monitoring Service Ports
const (
	// PrometheusPort is the default port for Prometheus.
	PrometheusPort = 9090

	// GrafanaPort is the default port for Grafana.
	GrafanaPort = 3000

	// MetricsPortBot is the metrics port for the trading bot process.
	MetricsPortBot = 9100

	// MetricsPortServer is the metrics port for the signal server process.
	MetricsPortServer = 9101
)

// ServiceMetricsPorts provides a mapping of service names to their metrics
// ports. This is useful for Prometheus configuration and health checks.
var ServiceMetricsPorts = map[string]int{
	"bot":    MetricsPortBot,
	"server": MetricsPortServer,
}

// GetServiceMetricsPort returns the metrics port for a given service name.
// Returns 0 if the service is not found.
func GetServiceMetricsPort(service string) int {
	if port, ok := ServiceMetricsPorts[service]; ok {
		return port
	}
	return 0
}
