// Package relay implements the real-time event relay of the GoChat server.
//
// The package is transport agnostic. A Registry tracks live connections and
// the rooms they joined, a Relay turns inbound events into deliveries by
// applying per-event targeting rules, and an Emitter hands every delivery to
// whatever transport owns the connection. Every type in this package expects
// to be driven from a single event loop and performs no locking of its own.
package relay
