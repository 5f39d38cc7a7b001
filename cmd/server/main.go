package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/auth"
	"github.com/pscheid92/livepoll/internal/broadcast"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/httpserver"
	"github.com/pscheid92/livepoll/internal/memstore"
	"github.com/pscheid92/livepoll/internal/platform/config"
	"github.com/pscheid92/livepoll/internal/platform/logging"
	"github.com/pscheid92/livepoll/internal/platform/version"
	"github.com/pscheid92/livepoll/internal/postgres"
	"github.com/pscheid92/livepoll/internal/redis"
	"github.com/pscheid92/livepoll/internal/voting"
	goredis "github.com/redis/go-redis/v9"
)

// memoryDatabaseURL selects the in-process store; data is lost on restart.
const memoryDatabaseURL = "memory://"

const shutdownTimeout = 10 * time.Second

type storage struct {
	users  domain.UserRepository
	polls  domain.PollRepository
	votes  domain.VoteStore
	checks []httpserver.HealthCheck
	close  func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStorage(cfg *config.Config, clock clockwork.Clock) storage {
	if cfg.DatabaseURL == memoryDatabaseURL {
		slog.Warn("Using in-memory storage; data will not survive a restart")
		store := memstore.New(clock)
		return storage{users: store.Users(), polls: store.Polls(), votes: store, close: func() {}}
	}

	pool := setupDB(cfg)
	return storage{
		users: postgres.NewUserRepo(pool),
		polls: postgres.NewPollRepo(pool),
		votes: postgres.NewVoteStore(pool),
		checks: []httpserver.HealthCheck{{
			Name: "database",
			Check: func(ctx context.Context) error {
				postgres.RecordPoolStats(pool)
				return pool.Ping(ctx)
			},
		}},
		close: pool.Close,
	}
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, relay *redis.Relay, sequencer *broadcast.Sequencer) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if relay != nil {
			if err := relay.Close(); err != nil {
				slog.Error("Failed to close Redis relay", "error", err)
			}
		}

		if err := sequencer.Close(shutdownCtx); err != nil {
			slog.Error("Pending broadcasts not delivered before shutdown", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	store := setupStorage(cfg, clock)
	defer store.close()

	registry := broadcast.NewRegistry()
	dispatcher := broadcast.NewDispatcher(registry, cfg.BroadcastSendTimeout, clock)
	connections := broadcast.NewConnectionHandler(registry, broadcast.HandlerConfig{
		PingInterval: cfg.WSPingInterval,
		IdleTimeout:  cfg.WSIdleTimeout,
		WriteTimeout: cfg.BroadcastSendTimeout,
	}, clock)

	sequencer := broadcast.NewSequencer(dispatcher, cfg.BroadcastBacklog)
	var publisher domain.Publisher = broadcast.NewLocalFanout(sequencer)
	var relay *redis.Relay
	healthChecks := store.checks
	if cfg.RedisURL != "" {
		rdb := setupRedis(context.Background(), cfg)
		defer func() { _ = rdb.Close() }()

		relay = redis.NewRelay(rdb, sequencer, publisher)
		if err := relay.Listen(context.Background()); err != nil {
			slog.Error("Failed to subscribe to poll updates", "error", err)
			os.Exit(1)
		}
		publisher = relay
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		slog.Info("Cross-instance fan-out enabled via Redis")
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry, clock)
	accounts := auth.NewService(store.users, tokens)
	coordinator := voting.NewCoordinator(store.votes, clock)
	appSvc := app.NewService(accounts, store.polls, coordinator, publisher)

	srv := httpserver.NewServer(cfg, appSvc, tokens, connections, healthChecks, clock)

	done := runGracefulShutdown(srv, relay, sequencer)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
