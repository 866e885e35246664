// Package config loads and validates the proxy configuration from a YAML
// file, with environment-variable overrides for the network addresses.
package config
