package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketstore/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// FileName is the embedded engine's database file inside the data directory.
const FileName = "marketplace.db"

// Options configures a Pool.
type Options struct {
	Type     DatabaseType
	URI      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	DataDir  string

	MaxPoolSize       int
	MinIdle           int
	MaxLifetime       time.Duration
	KeepaliveTime     time.Duration
	ConnectionTimeout time.Duration
}

// OptionsFromConfig merges the database and pool sections of cfg.
func OptionsFromConfig(db config.DatabaseConfig, pool config.PoolConfig) (Options, error) {
	t, err := ParseDatabaseType(db.Type)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Type:              t,
		URI:               db.URI,
		Host:              db.Host,
		Port:              db.Port,
		Name:              db.Name,
		User:              db.User,
		Password:          db.Password,
		SSLMode:           db.SSLMode,
		DataDir:           db.DataDir,
		MaxPoolSize:       pool.MaxPoolSize,
		MinIdle:           pool.MinIdle,
		MaxLifetime:       pool.MaxLifetime,
		KeepaliveTime:     pool.KeepaliveTime,
		ConnectionTimeout: pool.ConnectionTimeout,
	}, nil
}

// Pool owns the process-wide connection pool. All store access goes through
// WithConnection or WithTx so connections are always returned.
type Pool struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	log     *zap.Logger

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open builds the pool described by opts and verifies it with a ping.
func Open(ctx context.Context, opts Options, log *zap.Logger) (*Pool, error) {
	dialect, err := DialectFor(opts.Type)
	if err != nil {
		return nil, err
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = 5 * time.Second
	}
	if opts.MaxPoolSize <= 0 {
		opts.MaxPoolSize = 10
	}
	log = log.Named("pool")

	dsn, err := opts.dsn(log)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Type, err)
	}

	if dialect.Local {
		db.SetMaxOpenConns(1) // one writer per file
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(opts.MaxPoolSize)
		db.SetMaxIdleConns(min(max(opts.MinIdle, 1), opts.MaxPoolSize))
		db.SetConnMaxLifetime(opts.MaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Type, err)
	}

	p := &Pool{
		db:      db,
		dialect: dialect,
		opts:    opts,
		log:     log,
		stop:    make(chan struct{}),
	}
	if opts.KeepaliveTime > 0 {
		p.wg.Add(1)
		go p.keepalive()
	}

	log.Info("connection pool ready",
		zap.String("backend", string(opts.Type)),
		zap.Int("max_pool_size", opts.MaxPoolSize),
		zap.Duration("connection_timeout", opts.ConnectionTimeout))
	return p, nil
}

func (o Options) dsn(log *zap.Logger) (string, error) {
	switch o.Type {
	case SQLite:
		path, err := prepareFile(o.DataDir, log)
		if err != nil {
			return "", err
		}
		busy := strconv.FormatInt(o.ConnectionTimeout.Milliseconds(), 10)
		return path + "?_pragma=busy_timeout(" + busy + ")&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", nil
	case MySQL, MariaDB:
		if o.URI != "" {
			return o.URI, nil
		}
		cfg := mysql.NewConfig()
		cfg.User = o.User
		cfg.Passwd = o.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(o.Host, strconv.Itoa(o.port()))
		cfg.DBName = o.Name
		cfg.Timeout = o.ConnectionTimeout
		cfg.ReadTimeout = o.ConnectionTimeout
		cfg.WriteTimeout = o.ConnectionTimeout
		return cfg.FormatDSN(), nil
	case PostgreSQL:
		if o.URI != "" {
			return o.URI, nil
		}
		q := url.Values{}
		q.Set("sslmode", o.SSLMode)
		q.Set("connect_timeout", strconv.Itoa(max(int(o.ConnectionTimeout.Seconds()), 1)))
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(o.User, o.Password),
			Host:     net.JoinHostPort(o.Host, strconv.Itoa(o.port())),
			Path:     "/" + o.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, o.Type)
}

func (o Options) port() int {
	if o.Port > 0 {
		return o.Port
	}
	return dialects[o.Type].DefaultPort
}

// prepareFile makes sure the database file exists, taking a .bak copy of an
// existing file first. A failed backup is logged and ignored.
func prepareFile(dir string, log *zap.Logger) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	if _, err := os.Stat(path); err == nil {
		if err := backup(path, path+".bak"); err != nil {
			log.Warn("failed to back up database file", zap.String("path", path), zap.Error(err))
		} else {
			log.Info("database file backed up", zap.String("backup", path+".bak"))
		}
		return path, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create database file: %w", err)
	}
	f.Close()
	return path, nil
}

func backup(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (p *Pool) keepalive() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.KeepaliveTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.ConnectionTimeout)
			if err := p.db.PingContext(ctx); err != nil {
				p.log.Warn("keepalive ping failed", zap.Error(err))
			}
			cancel()
		case <-p.stop:
			return
		}
	}
}

// Dialect returns the SQL dialect of the pool's backend.
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// Timeout is the bound applied to acquisition and to each statement.
func (p *Pool) Timeout() time.Duration {
	return p.opts.ConnectionTimeout
}

// Bound derives a context limited by the connection timeout.
func (p *Pool) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opts.ConnectionTimeout)
}

// WithConnection checks out one connection for the duration of fn. The
// connection is returned on every path, panics included. Failures are logged
// with msg and returned to the caller.
func (p *Pool) WithConnection(ctx context.Context, msg string, fn func(ctx context.Context, conn *sql.Conn) error) error {
	ctx, cancel := p.Bound(ctx)
	defer cancel()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.log.Error(msg, zap.String("stage", "acquire"), zap.Error(err))
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if err := fn(ctx, conn); err != nil {
		p.log.Error(msg, zap.Error(err))
		return err
	}
	return nil
}

// WithConnectionResult runs fn like WithConnection and returns def when the
// connection or fn fails.
func WithConnectionResult[T any](ctx context.Context, p *Pool, msg string, def T, fn func(ctx context.Context, conn *sql.Conn) (T, error)) T {
	var out T
	err := p.WithConnection(ctx, msg, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		out, err = fn(ctx, conn)
		return err
	})
	if err != nil {
		return def
	}
	return out
}

// WithTx runs fn inside one transaction on one connection. Acquisition is
// bounded by the connection timeout; statements inside fn should use Bound.
func (p *Pool) WithTx(ctx context.Context, msg string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	acquireCtx, cancel := p.Bound(ctx)
	conn, err := p.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		p.log.Error(msg, zap.String("stage", "acquire"), zap.Error(err))
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		p.log.Error(msg, zap.String("stage", "begin"), zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		p.log.Error(msg, zap.Error(err))
		return err
	}
	if err := tx.Commit(); err != nil {
		p.log.Error(msg, zap.String("stage", "commit"), zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TableSet holds table names keyed by their lower-case form.
type TableSet map[string]string

// Has reports whether name exists, ignoring case.
func (t TableSet) Has(name string) bool {
	_, ok := t[strings.ToLower(name)]
	return ok
}

// Name returns the stored spelling of name.
func (t TableSet) Name(name string) string {
	if n, ok := t[strings.ToLower(name)]; ok {
		return n
	}
	return name
}

// Tables lists the tables visible to the pool.
func (p *Pool) Tables(ctx context.Context) (TableSet, error) {
	tables := TableSet{}
	err := p.WithConnection(ctx, "failed to list tables", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, p.dialect.TablesQuery)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			tables[strings.ToLower(name)] = name
		}
		return rows.Err()
	})
	return tables, err
}

// Ping checks the backend is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	ctx, cancel := p.Bound(ctx)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Stats returns the pool counters.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close drains and closes the pool. Safe to call more than once.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		err = p.db.Close()
		p.log.Info("connection pool closed")
	})
	return err
}
