// Package logging provides a minimal logging interface and adapters for Aegis.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the runtime, the agents and the gateway use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - AgentLogger, a configurable slog-backed logger with domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
//
// Arguments after the message are slog key/value pairs.
package logging
