// Package config loads and validates environment-driven configuration for
// the distribution service.
package config
