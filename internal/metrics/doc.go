// Package metrics defines the Prometheus instrumentation for the proxy.
package metrics
