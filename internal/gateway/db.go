package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const defaultConnectTimeout = 10 * time.Second

// Connection is a single scoped database connection. Callers acquire one per
// operation and must Close it on every exit path; there is no pooling or
// reuse across calls.
type Connection interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// DB hands out scoped connections to one configured database.
type DB interface {
	Dialect() Dialect
	Conn(ctx context.Context) (Connection, error)
	Close() error
}

type DBConfig struct {
	Logger *slog.Logger

	Dialect Dialect
	// DSN is the engine connection string. TLS material (sslmode, certs,
	// client keys) travels inside the DSN; the gateway only requires that an
	// authenticated connection can be acquired on demand.
	DSN string

	ConnectTimeout time.Duration
}

func (cfg *DBConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Dialect == "" {
		return fmt.Errorf("dialect is required")
	}
	if _, err := ParseDialect(string(cfg.Dialect)); err != nil {
		return err
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return nil
}

type sqlDB struct {
	log     *slog.Logger
	cfg     DBConfig
	db      *sql.DB
	dialect Dialect
}

// Open connects to the configured database and verifies it is reachable.
// Connection failures surface as gateway errors.
func Open(ctx context.Context, cfg DBConfig) (DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate db config: %w", err)
	}

	db, err := sql.Open(cfg.Dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, newGatewayError(fmt.Sprintf("failed to open %s database: %v", cfg.Dialect, err), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, newGatewayError(fmt.Sprintf("failed to reach %s database: %v", cfg.Dialect, err), err)
	}

	cfg.Logger.Debug("gateway: database reachable", "dialect", cfg.Dialect)
	return &sqlDB{
		log:     cfg.Logger,
		cfg:     cfg,
		db:      db,
		dialect: cfg.Dialect,
	}, nil
}

func (d *sqlDB) Dialect() Dialect {
	return d.dialect
}

func (d *sqlDB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, newGatewayError(fmt.Sprintf("failed to acquire connection: %v", err), err)
	}
	return &sqlConn{conn: conn}, nil
}

func (d *sqlDB) Close() error {
	return d.db.Close()
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *sqlConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}
