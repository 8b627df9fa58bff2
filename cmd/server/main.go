package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/leadstream/leadstream/internal/auth"
	"github.com/leadstream/leadstream/internal/config"
	"github.com/leadstream/leadstream/internal/dispatch"
	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/eventsource"
	"github.com/leadstream/leadstream/internal/gateway"
	"github.com/leadstream/leadstream/internal/health"
	"github.com/leadstream/leadstream/internal/logging"
	"github.com/leadstream/leadstream/internal/registry"
	"github.com/leadstream/leadstream/internal/server"
	"github.com/leadstream/leadstream/internal/validator"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupVerifier(cfg *config.Config, clock clockwork.Clock) domain.TokenVerifier {
	if cfg.AuthVerifyURL != "" {
		return auth.NewRemoteVerifier(cfg.AuthVerifyURL)
	}
	return auth.NewJWTVerifier(cfg.JWTSecret, clock)
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Warn("No REDIS_URL configured, running without a producer feed")
		return nil
	}
	client, err := eventsource.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, gw *gateway.Gateway, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		gw.CloseAll("server shutting down")
		cancel()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier := setupVerifier(cfg, clock)

	limits := gateway.NewAdmissionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst)
	gw := gateway.NewGateway(limits, verifier, clock)

	val := validator.New(clock, gw)
	reg := registry.New(clock)

	// Disconnect cleanup cascades through every registered purger.
	gw.RegisterPurger(val)
	gw.RegisterPurger(reg)

	monitor := health.NewMonitor(gw, reg, clock)

	dispatcher := dispatch.New(gw, reg, monitor, clock)
	go dispatcher.Run(ctx)

	redisClient := setupRedis(ctx, cfg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		source := eventsource.NewSource(redisClient, cfg.EventChannel, dispatcher)
		go source.Run(ctx)
	}

	srv := server.NewServer(cfg, gw, val, reg, monitor, redisClient, clock)

	done := runGracefulShutdown(srv, gw, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
