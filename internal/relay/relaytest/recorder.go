// Package relaytest provides a delivery recorder for tests that drive a
// relay.Relay without a network stack.
package relaytest

import (
	"sync"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Recorder implements relay.Emitter, relay.Observer and relay.Publisher and
// keeps everything it is handed.
type Recorder struct {
	mu         sync.Mutex
	deliveries []relay.Delivery
	dropped    []error
	published  []relay.Broadcast
}

func (r *Recorder) Emit(d relay.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

// Delivered is a no-op: Emit already recorded the delivery.
func (r *Recorder) Delivered(relay.Delivery) {}

func (r *Recorder) Dropped(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, err)
}

func (r *Recorder) Publish(b relay.Broadcast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, b)
}

// Deliveries returns a copy of every recorded delivery, in emission order.
func (r *Recorder) Deliveries() []relay.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.Delivery(nil), r.deliveries...)
}

// To returns the deliveries addressed to one connection.
func (r *Recorder) To(id relay.ConnID) []relay.Delivery {
	var out []relay.Delivery
	for _, d := range r.Deliveries() {
		if d.Conn == id {
			out = append(out, d)
		}
	}
	return out
}

// Named returns the deliveries of one outbound event.
func (r *Recorder) Named(event string) []relay.Delivery {
	var out []relay.Delivery
	for _, d := range r.Deliveries() {
		if d.Event.Name == event {
			out = append(out, d)
		}
	}
	return out
}

// Recipients returns the receiving connection of each delivery of event.
func (r *Recorder) Recipients(event string) []relay.ConnID {
	var out []relay.ConnID
	for _, d := range r.Named(event) {
		out = append(out, d.Conn)
	}
	return out
}

// DropErrors returns the errors of every dropped inbound event.
func (r *Recorder) DropErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.dropped...)
}

func (r *Recorder) Published() []relay.Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.Broadcast(nil), r.published...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
	r.dropped = nil
	r.published = nil
}
