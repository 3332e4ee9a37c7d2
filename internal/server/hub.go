package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// inboundEvent is an event read by a client's read pump, or the transport
// error that ended it.
type inboundEvent struct {
	client *Client
	event  relay.Event
	err    error
}

// Hub is the event loop. It owns the relay and its registry; every
// registration, inbound event and remote broadcast is processed by Run, one at
// a time.
type Hub struct {
	relay   *relay.Relay
	clients map[relay.ConnID]*Client
	metrics *Metrics
	log     *slog.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	remote     chan relay.Broadcast
	stats      chan chan Stats

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub routing through registry. metrics may be nil.
func NewHub(registry *relay.Registry, log *slog.Logger, metrics *Metrics, opts ...relay.Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[relay.ConnID]*Client),
		metrics:    metrics,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		remote:     make(chan relay.Broadcast, 64),
		stats:      make(chan chan Stats),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	relayOpts := []relay.Option{relay.WithLogger(log)}
	if metrics != nil {
		relayOpts = append(relayOpts, relay.WithObserver(metrics))
	}
	relayOpts = append(relayOpts, opts...)
	h.relay = relay.New(registry, relay.EmitterFunc(h.deliver), relayOpts...)
	return h
}

// Run starts the hub's event loop. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case in := <-h.inbound:
			h.handleInbound(in)

		case b := <-h.remote:
			n := h.relay.DeliverRemote(b)
			h.log.Debug("remote broadcast delivered", "event", b.Event.Name, "deliveries", n)

		case reply := <-h.stats:
			connections, rooms := h.relay.Registry().Stats()
			reply <- Stats{Connections: connections, Rooms: rooms}
		}
	}
}

// Register hands a new client to the loop, which starts its pumps. It returns
// false when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// DeliverRemote queues a broadcast received from another instance. It may be
// called from any goroutine.
func (h *Hub) DeliverRemote(b relay.Broadcast) {
	select {
	case h.remote <- b:
	case <-h.ctx.Done():
	}
}

// Stats asks the loop for the current connection and room counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.ctx.Done():
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client.id] = client
	h.relay.Connect(client.id)
	h.log.Info("client registered", "conn", client.id, "remote", client.addr, "clients", len(h.clients))
	h.updateGauges()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) unregisterClient(client *Client) {
	if current, ok := h.clients[client.id]; !ok || current != client {
		return
	}
	delete(h.clients, client.id)
	close(client.send)
	h.relay.Disconnect(client.id)
	h.log.Info("client unregistered", "conn", client.id, "remote", client.addr, "clients", len(h.clients))
	h.updateGauges()
}

func (h *Hub) handleInbound(in inboundEvent) {
	if _, ok := h.clients[in.client.id]; !ok {
		return
	}
	if in.err != nil {
		h.relay.Error(in.client.id, in.err)
		return
	}
	if h.metrics != nil {
		h.metrics.received(in.event.Name)
	}
	h.relay.Handle(in.client.id, in.event)
	h.updateGauges()
}

// deliver is the relay's emitter. It never blocks: a client whose send queue
// is full misses the delivery.
func (h *Hub) deliver(d relay.Delivery) {
	client, ok := h.clients[d.Conn]
	if !ok {
		return
	}
	payload, err := json.Marshal(d.Event)
	if err != nil {
		h.log.Error("failed to encode delivery", "conn", d.Conn, "event", d.Event.Name, "error", err)
		return
	}

	select {
	case client.send <- payload:
	default:
		h.log.Warn("send queue full; dropping delivery", "conn", d.Conn, "event", d.Event.Name)
		if h.metrics != nil {
			h.metrics.queueOverflow.Inc()
		}
	}
}

func (h *Hub) updateGauges() {
	if h.metrics == nil {
		return
	}
	h.metrics.setRegistryStats(h.relay.Registry().Stats())
}

// shutdownClients closes every connection and disconnects it from the relay.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections", "clients", len(h.clients))

	for id, client := range h.clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", "conn", id, "remote", client.addr, "error", err)
			}
		}
		close(client.send)
		delete(h.clients, id)
		h.relay.Disconnect(id)
	}
	h.updateGauges()
}

// Shutdown stops the loop and waits for every client goroutine to finish, or
// until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
