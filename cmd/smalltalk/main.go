package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/smalltalk/pkg/chat"
	"github.com/go-go-golems/smalltalk/pkg/persistence/chatstore"
	"github.com/go-go-golems/smalltalk/pkg/state"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "smalltalk",
		Short: "Anonymous pair-chat room coordinator",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.AddCommand(newServeCmd())
	return root
}

func initLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func newServeCmd() *cobra.Command {
	var (
		configPath   string
		addr         string
		redisEnabled bool
		redisAddr    string
		sqlitePath   string
		graceSeconds int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat coordinator server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("redis-enabled") {
				cfg.Redis.Enabled = redisEnabled
			}
			if flags.Changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if flags.Changed("sqlite") {
				cfg.SQLite.Path = sqlitePath
			}
			if flags.Changed("grace-seconds") {
				cfg.GraceSeconds = graceSeconds
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&redisEnabled, "redis-enabled", false, "use redis for shared state and fan-out")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite database file (empty for in-memory stores)")
	cmd.Flags().IntVar(&graceSeconds, "grace-seconds", 30, "room grace period after a disconnect, in seconds")
	return cmd
}

func runServe(ctx context.Context, cfg Config) error {
	logger := log.With().Str("component", "server").Logger()

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	// shared presence state + fan-out bus: redis when enabled, in-process
	// otherwise
	var (
		presenceStore state.Store
		bus           *chat.Bus
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(srvCtx).Err(); err != nil {
			return errors.Wrapf(err, "redis ping %s", cfg.Redis.Addr)
		}
		presenceStore = state.NewRedisStore(client)
		hostname, _ := os.Hostname()
		redisBus, err := chat.NewRedisStreamBus(client, hostname, log.Logger)
		if err != nil {
			return errors.Wrap(err, "build redis stream bus")
		}
		bus = redisBus
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis state and fan-out")
	} else {
		presenceStore = state.NewMemoryStore()
		bus = chat.NewGoChannelBus(log.Logger)
		logger.Info().Msg("using in-process state and fan-out")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn().Err(err).Msg("bus close failed")
		}
	}()

	// durable rooms + transcripts
	var store chatstore.Store
	if cfg.SQLite.Path != "" {
		dsn, err := chatstore.SQLiteDSNForFile(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		sqlStore, err := chatstore.NewSQLiteStore(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = sqlStore.Close() }()
		store = sqlStore
		logger.Info().Str("path", cfg.SQLite.Path).Msg("using sqlite room store")
	} else {
		store = chatstore.NewMemoryStore()
		logger.Info().Msg("using in-memory room store")
	}

	bcast, err := chat.NewBroadcaster(srvCtx, bus)
	if err != nil {
		return err
	}
	coord, err := chat.NewCoordinator(chat.CoordinatorConfig{
		Presence:    chat.NewPresenceTracker(presenceStore),
		Registry:    chat.NewRoomRegistry(store),
		Broadcaster: bcast,
		Messages:    store,
		GracePeriod: cfg.gracePeriod(),
	})
	if err != nil {
		return err
	}
	defer coord.Scheduler().Stop()

	mux := http.NewServeMux()
	chat.NewAPIHandler(coord, store).Register(mux, websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			logger.Info().Msg("received interrupt signal, shutting down")
		case <-srvCtx.Done():
		}
		srvCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		return nil
	})
	eg.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Dur("grace", cfg.gracePeriod()).Msg("starting smalltalk server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	return eg.Wait()
}
