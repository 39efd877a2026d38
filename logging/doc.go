// Package logging provides a minimal logging interface and adapters for
// agentbridge.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that engines, adapters and the HTTP edge use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - BridgeLogger with contextual helpers (engine, session, run) and
//     domain-specific helpers for turns and spawned processes
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
