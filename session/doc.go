// Package session provides the process-wide session event bus and a narrow
// in-memory event history store.
//
// The Bus fans a single backend event stream out to any number of concurrent
// observers (spectators, group views) keyed by session id. Delivery is
// best-effort and live-only: observers joining mid-stream see only events
// emitted after they subscribe, and a misbehaving observer never prevents
// delivery to the others.
//
// Durable persistence of sessions is an external collaborator; the Store
// interface here covers only the in-process history the bridge itself needs
// (A2A task history, observer catch-up summaries).
package session
