// Package server exposes the monitoring HTTP API (health, stats, config
// and Prometheus metrics) alongside the UDP proxy.
package server
