package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/gochat-relay/internal/presence"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Server serves the relay over HTTP and WebSocket.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
	presence presence.Store
	gatherer prometheus.Gatherer
	handler  http.Handler
}

type options struct {
	registry   *relay.Registry
	relayOpts  []relay.Option
	tracker    *presence.Tracker
	prometheus *prometheus.Registry
}

// Option configures a Server.
type Option func(*options)

// WithRegistry routes through an existing registry instead of a fresh one.
func WithRegistry(r *relay.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithRelayOptions passes extra options to the relay, such as a publisher.
func WithRelayOptions(opts ...relay.Option) Option {
	return func(o *options) { o.relayOpts = append(o.relayOpts, opts...) }
}

// WithPresence feeds user lifecycle transitions into the tracker and exposes
// its store under /presence.
func WithPresence(t *presence.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithPrometheus registers metrics with reg instead of a private registry.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(o *options) { o.prometheus = reg }
}

// New builds a Server. The hub is not running until Run or Start is called.
func New(cfg Config, log *slog.Logger, opts ...Option) *Server {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = relay.NewRegistry()
	}
	if o.prometheus == nil {
		o.prometheus = prometheus.NewRegistry()
		o.prometheus.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	cfg = sanitizeConfig(cfg)
	metrics := NewMetrics(o.prometheus)
	relayOpts := o.relayOpts
	s := &Server{
		cfg:      cfg,
		log:      log,
		gatherer: o.prometheus,
	}
	if o.tracker != nil {
		relayOpts = append(relayOpts, relay.WithLifecycleListener(o.tracker))
		s.presence = o.tracker.Store()
	}

	s.hub = NewHub(o.registry, log, metrics, relayOpts...)
	policy := newOriginPolicy(cfg.AllowedOrigins, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}
	s.handler = s.SetupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Config() Config { return s.cfg }

// Start runs the hub's event loop in a new goroutine.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info("hub started and ready to manage websocket connections")
}

// Run starts the hub and serves HTTP until ctx is cancelled or the listener
// fails, then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	s.Start()
	httpServer := CreateServer(s.cfg.Port, s.handler)

	errCh := make(chan error, 1)
	go func() {
		if err := StartServer(httpServer, s.log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutting down gracefully")
	case runErr = <-errCh:
		s.log.Error("http server failed", "error", runErr)
	}

	if err := ShutdownServer(httpServer, s.cfg.ShutdownTimeout, s.log); err != nil && runErr == nil {
		runErr = err
	}
	if err := s.hub.Shutdown(s.cfg.ShutdownTimeout); err != nil {
		s.log.Warn("hub shutdown incomplete", "error", err)
	}
	return runErr
}

// CreateServer returns an http.Server with production timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer listens and serves until the server is shut down.
func StartServer(server *http.Server, log *slog.Logger) error {
	log.Info("server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer stops accepting requests and waits for in-flight ones, or
// until timeout. Upgraded WebSocket connections are closed by the hub.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("http server shutdown error", "error", err)
		return err
	}

	log.Info("http server shutdown completed")
	return nil
}
