package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/gochat-relay/internal/cluster"
	"github.com/Tyrowin/gochat-relay/internal/presence"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "gochat-relay",
		Short: "Real-time chat event relay",
		Long: `Relay chat events between WebSocket clients.

Configuration is read from the environment, optionally seeded from a .env
file. Set REDIS_URL to share presence between instances and NATS_URL to
forward room broadcasts between them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), envFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "File with environment variables to load before parsing the configuration")

	return cmd
}

// run wires every component and blocks until SIGINT/SIGTERM.
func run(parent context.Context, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := server.LoadConfigFromEnviron()
	if err != nil {
		return err
	}
	log := server.NewLogger(cfg.LogLevel, os.Stdout)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store presence.Store = presence.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := presence.DialRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return err
		}
		store = redisStore
		log.Info("presence backed by redis")
	}
	defer func() {
		_ = store.Close()
	}()

	tracker := presence.NewTracker(store, log, 0, 0)
	defer tracker.Close()

	opts := []server.Option{server.WithPresence(tracker)}

	var bridge *cluster.Bridge
	if cfg.NATSURL != "" {
		nc, err := cluster.Dial(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		bridge = cluster.NewBridge(nc, cfg.NATSSubject, log)
		defer func() {
			_ = bridge.Close()
		}()
		opts = append(opts, server.WithRelayOptions(relay.WithPublisher(bridge)))
		log.Info("cluster bridge enabled", "node", bridge.NodeID())
	}

	srv := server.New(cfg, log, opts...)
	if bridge != nil {
		if err := bridge.Subscribe(srv.Hub().DeliverRemote); err != nil {
			return err
		}
	}

	return srv.Run(ctx)
}
