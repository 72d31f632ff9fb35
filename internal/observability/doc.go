// Package observability provides structured logging for the gatekeeper.
//
// This package implements:
//   - zap logger construction from the configured level and format
//   - Access logging middleware with request ID propagation
package observability
