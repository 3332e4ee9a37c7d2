// Package server is the WebSocket transport of the relay.
//
// A Hub runs the single event loop that owns the relay and its registry.
// Each connection gets a Client with a read pump feeding the hub and a write
// pump draining a bounded send queue. Server ties the hub to the HTTP
// routes, configuration, metrics and optional presence store.
package server
