package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/NIvanov17/AppointmentSystem/internal/cache"
	"github.com/NIvanov17/AppointmentSystem/internal/config"
	"github.com/NIvanov17/AppointmentSystem/internal/observability"
	"github.com/NIvanov17/AppointmentSystem/internal/service/booking"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
	"github.com/NIvanov17/AppointmentSystem/internal/store/memory"
	"github.com/NIvanov17/AppointmentSystem/internal/store/postgres"
	grpcTransport "github.com/NIvanov17/AppointmentSystem/internal/transport/grpc"
)

const serviceName = "booking-server"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("log_level", cfg.LogLevel),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("timezone", cfg.Location.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Error("otel setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn("otel shutdown failed", slog.Any("err", err))
		}
	}()

	st, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		log.Error("store open failed", slog.Any("err", err), slog.String("store_driver", cfg.StoreDriver))
		os.Exit(1)
	}
	defer closeStore()

	opts := booking.Options{
		Location:        cfg.Location,
		SlotLockRetries: cfg.SlotLockRetries,
		Logger:          log,
	}
	if cfg.RedisEnabled {
		c, err := cache.NewAvailabilityCache(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			log.Error("redis connection failed", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
			os.Exit(1)
		}
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		opts.Cache = c
		log.Info("availability cache enabled", slog.String("redis_addr", cfg.RedisAddr), slog.Duration("ttl", cfg.RedisTTL))
	}

	svc := booking.NewService(st, opts)
	grpcServer, healthServer := grpcTransport.NewServer(svc, log, grpcTransport.ServerOptions{
		RequestTimeout: cfg.GRPCRequestTimeout,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, healthServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Config) (store.BookingStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		st := memory.New(cfg.LockTimeout)
		if cfg.MemorySeedFile != "" {
			seed, err := memory.LoadSeedFile(cfg.MemorySeedFile)
			if err != nil {
				return nil, nil, err
			}
			if err := st.Apply(seed); err != nil {
				return nil, nil, fmt.Errorf("apply seed %s: %w", cfg.MemorySeedFile, err)
			}
			log.Info("memory store seeded",
				slog.String("seed_file", cfg.MemorySeedFile),
				slog.Int("users", len(seed.Users)),
				slog.Int("services", len(seed.Services)),
			)
		}
		return st, func() {}, nil

	case config.StoreDriverPostgres:
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
			ApplicationName: serviceName,
			LockTimeout:     cfg.LockTimeout,
			Logger:          log,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
			log.Error("database connection failed", args...)
			return nil, nil, err
		}
		closeDB := func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		}
		return postgres.NewBookingRepo(db, cfg.LockTimeout), closeDB, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

func shutdown(log *slog.Logger, s *grpc.Server, hs *health.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))
	hs.Shutdown()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
