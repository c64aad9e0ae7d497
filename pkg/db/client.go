package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultTxRetries = 3
	baseRetryBackoff = 50 * time.Millisecond
)

// Client wraps the shared GORM connection.
type Client struct {
	conn       *gorm.DB
	maxRetries int
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New boots a GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	if cfg.IsMySQL() {
		dialector = mysql.Open(cfg.DSN)
	} else {
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	}

	conn, err := open(dialector)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}

	applyPoolSettings(sqlDB, cfg)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "driver", driverName(cfg)), "database connection established")
	}

	return &Client{conn: conn, maxRetries: cfg.TxMaxRetries}, nil
}

// NewSQLite opens a sqlite database, used by the dev flag and tests. sqlite
// allows a single writer, so the pool is pinned to one connection and
// concurrent transactions queue instead of failing with "database is locked".
func NewSQLite(dsn string) (*Client, error) {
	conn, err := open(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return &Client{conn: conn}, nil
}

// Wrap returns a client around an existing connection.
func Wrap(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	return conn, nil
}

func driverName(cfg config.DBConfig) string {
	if cfg.IsMySQL() {
		return config.DBDriverMySQL
	}
	return config.DBDriverPostgres
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// WithTxRetry behaves like WithTx but reruns fn when the database reports a
// serialization failure or deadlock. fn must be safe to run more than once.
func (c *Client) WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	retries := c.maxRetries
	if retries <= 0 {
		retries = defaultTxRetries
	}

	backoff := baseRetryBackoff
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = c.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == retries {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", retries, err)
}

// ForUpdate adds a row lock to the next query. Dialects without row locks
// (sqlite) drop the clause.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}
