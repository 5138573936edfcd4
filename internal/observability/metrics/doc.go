// Package metrics exports adapter manager activity and API traffic to
// Prometheus.
package metrics
