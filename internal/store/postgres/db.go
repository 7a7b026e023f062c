package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const defaultApplicationName = "booking-server"

// Options tunes the connection pool and the session every pooled connection
// starts with.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// ApplicationName shows up in pg_stat_activity and lock wait reports.
	// A value already present in the URL wins.
	ApplicationName string
	// LockTimeout is the session default for row lock waits outside booking
	// transactions, which set their own. Zero leaves the server default.
	LockTimeout time.Duration

	Logger *slog.Logger
}

func connConfig(databaseURL string, opts Options) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		name := opts.ApplicationName
		if name == "" {
			name = defaultApplicationName
		}
		cfg.RuntimeParams["application_name"] = name
	}
	if opts.LockTimeout > 0 {
		cfg.RuntimeParams["lock_timeout"] = fmt.Sprintf("%dms", opts.LockTimeout.Milliseconds())
	}
	return cfg, nil
}

func Open(ctx context.Context, databaseURL string, opts Options) (*bun.DB, error) {
	cfg, err := connConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}
	sqlDB := stdlib.OpenDB(*cfg)

	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if opts.Logger != nil {
		opts.Logger.Info("database connected",
			slog.String("application_name", cfg.RuntimeParams["application_name"]),
			slog.Int("max_open_conns", opts.MaxOpenConns),
			slog.Int("max_idle_conns", opts.MaxIdleConns),
			slog.Duration("lock_timeout", opts.LockTimeout),
		)
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}

func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
