package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Emitter hands a delivery to the transport. Emission is fire-and-forget: the
// relay never waits for, or learns about, the outcome.
type Emitter interface {
	Emit(d Delivery)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(d Delivery)

func (f EmitterFunc) Emit(d Delivery) { f(d) }

// Observer is notified of every delivery the relay emits and every inbound
// event it drops.
type Observer interface {
	Delivered(d Delivery)
	Dropped(event string, err error)
}

// Publisher forwards room broadcasts to other relay instances.
type Publisher interface {
	Publish(b Broadcast)
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		if log != nil {
			r.log = log
		}
	}
}

// WithObserver adds a delivery observer.
func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observers = append(r.observers, o) }
}

// WithPublisher sets the publisher every local room broadcast is copied to.
func WithPublisher(p Publisher) Option {
	return func(r *Relay) { r.publisher = p }
}

// WithLifecycleListener adds a listener for user setup and disconnect.
func WithLifecycleListener(l LifecycleListener) Option {
	return func(r *Relay) { r.listeners = append(r.listeners, l) }
}

// WithRule adds or replaces the targeting rule for an inbound event.
func WithRule(event string, rule Rule) Option {
	return func(r *Relay) { r.rules[event] = rule }
}

// Relay translates inbound events into deliveries. It must be driven from a
// single goroutine, the same one that owns its Registry.
type Relay struct {
	registry  *Registry
	emitter   Emitter
	rules     map[string]Rule
	observers []Observer
	listeners []LifecycleListener
	publisher Publisher
	log       *slog.Logger
}

// New returns a Relay over registry that emits through emitter.
func New(registry *Registry, emitter Emitter, opts ...Option) *Relay {
	r := &Relay{
		registry: registry,
		emitter:  emitter,
		rules:    DefaultRules(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the relay routes through.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Handle processes one inbound event from connection id. Malformed events are
// logged and dropped; they never affect other connections.
func (r *Relay) Handle(id ConnID, evt Event) {
	if _, ok := r.registry.Connection(id); !ok {
		r.log.Debug("event from unknown connection", "conn", id, "event", evt.Name)
		return
	}

	switch evt.Name {
	case EventSetup:
		_, _ = r.Setup(id, evt.Data)
		return
	case EventJoinChat:
		r.joinChat(id, evt)
		return
	case EventLeaveChat:
		r.leaveChat(id, evt)
		return
	}

	rule, ok := r.rules[evt.Name]
	if !ok {
		r.log.Debug("ignoring event", "conn", id, "event", evt.Name)
		r.dropped(evt.Name, ErrUnknownEvent)
		return
	}
	target, err := rule(evt.Data)
	if err != nil {
		r.drop(id, evt.Name, err)
		return
	}

	n := r.fanout(id, target.Broadcast)
	if target.NotifySender {
		r.emit(Delivery{Conn: id, Event: target.Event})
		n++
	}
	r.log.Debug("event relayed", "conn", id, "event", evt.Name, "out", target.Event.Name, "deliveries", n)

	if r.publisher != nil {
		r.publisher.Publish(target.Broadcast)
	}
}

// DeliverRemote fans out a broadcast published by another relay instance to
// the local members of its rooms. It returns the number of deliveries.
func (r *Relay) DeliverRemote(b Broadcast) int {
	return r.fanout("", b)
}

func (r *Relay) joinChat(id ConnID, evt Event) {
	key, err := roomKeyOf(evt.Data)
	if err != nil {
		r.drop(id, evt.Name, err)
		return
	}
	if r.registry.Join(id, key) {
		r.log.Info("user joined room", "conn", id, "room", key)
	}
}

func (r *Relay) leaveChat(id ConnID, evt Event) {
	key, err := roomKeyOf(evt.Data)
	if err != nil {
		r.drop(id, evt.Name, err)
		return
	}
	if r.registry.Leave(id, key) {
		r.log.Info("user left room", "conn", id, "room", key)
	}
}

// fanout emits b to every member of its rooms, at most once per connection,
// skipping the sender connection and every connection of the excluded user.
func (r *Relay) fanout(sender ConnID, b Broadcast) int {
	excluded := make(map[ConnID]struct{})
	if sender != "" {
		excluded[sender] = struct{}{}
	}
	if b.ExcludeUser != "" {
		for _, id := range r.registry.RoomMembers(RoomKey(b.ExcludeUser)) {
			excluded[id] = struct{}{}
		}
	}

	n := 0
	for _, key := range b.Rooms {
		if b.ExcludeUser != "" && key == RoomKey(b.ExcludeUser) {
			continue
		}
		for _, id := range r.registry.RoomMembers(key) {
			if _, skip := excluded[id]; skip {
				continue
			}
			excluded[id] = struct{}{}
			r.emit(Delivery{Conn: id, Room: key, Event: b.Event})
			n++
		}
	}
	return n
}

func (r *Relay) emit(d Delivery) {
	r.emitter.Emit(d)
	for _, o := range r.observers {
		o.Delivered(d)
	}
}

func (r *Relay) drop(id ConnID, event string, err error) {
	r.log.Warn("event dropped", "conn", id, "event", event, "error", err)
	r.dropped(event, err)
}

func (r *Relay) dropped(event string, err error) {
	for _, o := range r.observers {
		o.Dropped(event, err)
	}
}

// decodeUserID reads the user id of a setup payload. Clients send the login
// response ({"existingUser": {...}}); a bare id or a user document are
// accepted too.
func decodeUserID(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", ErrMissingUserID
	}
	var in struct {
		ExistingUser *userRef `json:"existingUser"`
		ID           string   `json:"_id"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		var ref userRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		in.ID = ref.ID
	}
	if in.ExistingUser != nil && in.ExistingUser.ID != "" {
		return in.ExistingUser.ID, nil
	}
	if in.ID == "" {
		return "", ErrMissingUserID
	}
	return in.ID, nil
}
