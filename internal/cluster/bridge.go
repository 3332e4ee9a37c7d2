// Package cluster forwards room broadcasts between relay instances over NATS,
// so a user connected to one instance still receives events raised on another.
package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const DefaultSubject = "gochat.relay"

// envelope is the message published on the subject.
type envelope struct {
	Origin    string          `json:"origin"`
	Broadcast relay.Broadcast `json:"broadcast"`
}

// Conn is the part of *nats.Conn the bridge uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Bridge publishes local broadcasts and hands remote ones to a handler. It
// implements relay.Publisher.
type Bridge struct {
	conn    Conn
	subject string
	nodeID  string
	log     *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBridge returns a Bridge publishing on subject. Each bridge gets a random
// node id used to ignore its own messages.
func NewBridge(conn Conn, subject string, log *slog.Logger) *Bridge {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Bridge{
		conn:    conn,
		subject: subject,
		nodeID:  uuid.NewString(),
		log:     log,
	}
}

// Dial connects to the NATS server at url.
func Dial(url string, log *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("gochat-relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func (b *Bridge) NodeID() string { return b.nodeID }

var _ relay.Publisher = (*Bridge)(nil)

// Publish sends a broadcast to the other instances. Failures are logged; the
// local fan-out already happened.
func (b *Bridge) Publish(bc relay.Broadcast) {
	data, err := b.encode(bc)
	if err != nil {
		b.log.Error("failed to encode broadcast", "event", bc.Event.Name, "error", err)
		return
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		b.log.Error("failed to publish broadcast", "subject", b.subject, "event", bc.Event.Name, "error", err)
	}
}

// Subscribe delivers every broadcast published by another instance to handle.
// A bridge subscribes at most once.
func (b *Bridge) Subscribe(handle func(relay.Broadcast)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return fmt.Errorf("already subscribed to %s", b.subject)
	}

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		bc, ok := b.decode(msg.Data)
		if ok {
			handle(bc)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

// Close drops the subscription. The NATS connection belongs to the caller.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}

func (b *Bridge) encode(bc relay.Broadcast) ([]byte, error) {
	return json.Marshal(envelope{Origin: b.nodeID, Broadcast: bc})
}

// decode returns the broadcast carried by data unless it is malformed or was
// published by this bridge.
func (b *Bridge) decode(data []byte) (relay.Broadcast, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.log.Warn("invalid cluster message", "subject", b.subject, "error", err)
		return relay.Broadcast{}, false
	}
	if env.Origin == b.nodeID {
		return relay.Broadcast{}, false
	}
	return env.Broadcast, true
}
