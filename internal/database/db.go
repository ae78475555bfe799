package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DB wraps the pgxpool.Pool
type DB struct {
	*pgxpool.Pool
	logger *logrus.Entry
}

// Config holds database configuration. Zero values fall back to the
// defaults below.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// ConnectAttempts bounds how often the first ping is retried while the
	// database is still starting.
	ConnectAttempts int
	RetryDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConns == 0 {
		c.MaxConns = 20
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// New creates a connection pool and waits until the database answers
func New(cfg Config, logger *logrus.Entry) (*DB, error) {
	cfg = cfg.withDefaults()
	log := logger.WithField("component", "postgres")

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	delay := cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = pool.Ping(ctx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectAttempts {
			pool.Close()
			return nil, fmt.Errorf("unable to ping database after %d attempts: %w", attempt, err)
		}

		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": delay.String(),
		}).Warn("Database not ready")
		time.Sleep(delay)
		delay *= 2
	}

	log.WithFields(logrus.Fields{
		"host":      poolConfig.ConnConfig.Host,
		"database":  poolConfig.ConnConfig.Database,
		"max_conns": poolConfig.MaxConns,
	}).Info("Successfully connected to database")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection pool closed")
	}
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return db.Ping(ctx)
}
