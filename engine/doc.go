// Package engine defines the backend-agnostic engine contract and the
// registry that routes requests to concrete engine implementations.
//
// An Engine owns the lifecycle of a single conversational turn against one
// backend: process or session spawn, model discovery with cascading
// fallback, message submission and interrupt. During a turn it emits
// normalized agui events through a callback; the call resolves with the
// backend's canonical session id, which may differ from any id the caller
// passed in.
//
// Concrete implementations live in sub-packages (engine/anthropic for the
// SDK-driven runtime, engine/cli for the CLI-driven runtime), mirroring how
// vendor specifics stay out of the shared contract.
package engine
