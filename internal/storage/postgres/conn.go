package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/config"
)

const defaultIdleTime = 30 * time.Second

// querier is the subset of pgxpool.Pool used by the stores; pgxmock pools
// satisfy it too.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Conn is a pool plus the optional SSH tunnel it dials through.
type Conn struct {
	Pool   *pgxpool.Pool
	tunnel *Tunnel
	once   sync.Once
	err    error
}

// Close releases the pool and the tunnel. It is safe to call more than once,
// so the task and monitor stores may share one Conn.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		if c.Pool != nil {
			c.Pool.Close()
		}
		c.err = c.tunnel.Close()
	})
	return c.err
}

// ConnectOption customizes Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	newBackOff func() backoff.BackOff
}

// WithConnectBackOff replaces the connect retry schedule.
func WithConnectBackOff(factory func() backoff.BackOff) ConnectOption {
	return func(o *connectOptions) {
		o.newBackOff = factory
	}
}

// three attempts, 1-3s apart
func defaultConnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0.5
	b.Multiplier = 1
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2)
}

// Connect opens a pool for cfg, tunnelling through SSH when configured, and
// verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, opts ...ConnectOption) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := connectOptions{newBackOff: defaultConnectBackOff}
	for _, opt := range opts {
		opt(&o)
	}
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = defaultIdleTime
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	attempt := 0
	conn, err := backoff.RetryNotifyWithData(func() (*Conn, error) {
		attempt++
		return open(ctx, poolCfg.Copy(), cfg.SSH)
	}, backoff.WithContext(o.newBackOff(), ctx), func(err error, wait time.Duration) {
		logger.Warn("database connect failed, retrying",
			zap.String("host", cfg.Host),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("database connected", zap.String("host", cfg.Host), zap.String("database", cfg.Database), zap.Bool("ssh", cfg.SSH.Enabled()))
	return conn, nil
}

func open(ctx context.Context, poolCfg *pgxpool.Config, sshCfg config.SSHConfig) (*Conn, error) {
	conn := &Conn{}
	if sshCfg.Enabled() {
		tunnel, err := OpenTunnel(sshCfg)
		if err != nil {
			return nil, err
		}
		conn.tunnel = tunnel
		poolCfg.ConnConfig.DialFunc = tunnel.DialContext
		// the database host is resolved by the bastion
		poolCfg.ConnConfig.LookupFunc = func(_ context.Context, host string) ([]string, error) {
			return []string{host}, nil
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		_ = conn.tunnel.Close()
		return nil, err
	}
	conn.Pool = pool
	if err := pool.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// ConnString returns cfg.DSN or builds a postgres URL from the discrete fields.
func ConnString(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}
