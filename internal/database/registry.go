package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultName must be present in every database configuration; components
// that do not name a database use it.
const DefaultName = "default"

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know out of the box.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// PoolConfig bounds one connection pool.
type PoolConfig struct {
	Size                  int `yaml:"size" validate:"omitempty,min=1,max=100"`
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds" validate:"omitempty,min=1"`
	MaxIdleTimeSeconds    int `yaml:"max_idle_time_seconds" validate:"omitempty,min=1"`
	MaxLifetimeSeconds    int `yaml:"max_lifetime_seconds" validate:"omitempty,min=1"`
}

// Config describes one named database.
type Config struct {
	Type Driver `yaml:"type" validate:"required,oneof=sqlite postgres mysql"`

	// sqlite
	Path string `yaml:"path"`

	// postgres / mysql
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	Pool    PoolConfig        `yaml:"pool"`
	Options map[string]string `yaml:"options"`
}

// DB is one named pool. It embeds *sqlx.DB, so repositories run single
// statements directly on the pool; the transaction coordinator goes through
// Acquire for connection-pinned transactions.
type DB struct {
	*sqlx.DB
	Name           string
	Driver         Driver
	acquireTimeout time.Duration
}

// Acquire pins a connection, waiting at most the configured acquire timeout.
// Exhaustion surfaces as ErrPoolExhausted.
func (d *DB) Acquire(ctx context.Context) (*sqlx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, d.acquireTimeout)
	defer cancel()

	conn, err := d.DB.Connx(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %q after %s", ErrPoolExhausted, d.Name, d.acquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection from %q: %w", d.Name, err)
	}
	return conn, nil
}

// Registry maps logical database names to live pools. It is built once at
// startup and read-only afterwards.
type Registry struct {
	dbs    map[string]*DB
	logger *slog.Logger
}

// Open connects every database named in wanted (all of cfg when wanted is
// empty) and pings each. The "default" name must be present in cfg.
func Open(ctx context.Context, cfg map[string]Config, wanted []string, logger *slog.Logger) (*Registry, error) {
	if _, ok := cfg[DefaultName]; !ok {
		return nil, fmt.Errorf("database config: %q entry is required", DefaultName)
	}

	if len(wanted) == 0 {
		for name := range cfg {
			wanted = append(wanted, name)
		}
		sort.Strings(wanted)
	}

	r := &Registry{
		dbs:    make(map[string]*DB, len(wanted)),
		logger: logger.With("component", "database"),
	}

	for _, name := range wanted {
		c, ok := cfg[name]
		if !ok {
			r.Close()
			return nil, fmt.Errorf("%w: %q", ErrUnknownDatabase, name)
		}
		db, err := open(ctx, name, c)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.dbs[name] = db
		r.logger.Info("database connected", "name", name, "type", c.Type)
	}

	return r, nil
}

// Get resolves a pool by logical name.
func (r *Registry) Get(name string) (*DB, error) {
	db, ok := r.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatabase, name)
	}
	return db, nil
}

// Default returns the pool registered under "default".
func (r *Registry) Default() (*DB, error) { return r.Get(DefaultName) }

// Names lists registered databases in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping checks one database; used by the health checker.
func (r *Registry) Ping(ctx context.Context, name string) error {
	db, err := r.Get(name)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close shuts down every pool.
func (r *Registry) Close() {
	for name, db := range r.dbs {
		if err := db.Close(); err != nil {
			r.logger.Warn("close database", "name", name, "error", err)
		}
	}
}

func open(ctx context.Context, name string, cfg Config) (*DB, error) {
	dsn, driverName, err := buildDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("database %q: %w", name, err)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", name, err)
	}

	pool := cfg.Pool
	if pool.Size == 0 {
		pool.Size = 5
	}
	if pool.AcquireTimeoutSeconds == 0 {
		pool.AcquireTimeoutSeconds = 30
	}
	if pool.MaxIdleTimeSeconds == 0 {
		pool.MaxIdleTimeSeconds = 300
	}
	if pool.MaxLifetimeSeconds == 0 {
		pool.MaxLifetimeSeconds = 3600
	}

	db.SetMaxOpenConns(pool.Size)
	db.SetMaxIdleConns(pool.Size)
	db.SetConnMaxIdleTime(time.Duration(pool.MaxIdleTimeSeconds) * time.Second)
	db.SetConnMaxLifetime(time.Duration(pool.MaxLifetimeSeconds) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %q: %w", name, err)
	}

	return &DB{
		DB:             db,
		Name:           name,
		Driver:         cfg.Type,
		acquireTimeout: time.Duration(pool.AcquireTimeoutSeconds) * time.Second,
	}, nil
}

func buildDSN(cfg Config) (dsn, driverName string, err error) {
	switch cfg.Type {
	case DriverSQLite:
		if cfg.Path == "" {
			return "", "", errors.New("sqlite requires a path")
		}
		// WAL + busy_timeout + foreign keys are required by the schema;
		// _txlock=immediate makes write transactions take the lock up front.
		q := url.Values{}
		q.Add("_txlock", "immediate")
		q.Add("_time_format", "sqlite")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "busy_timeout(5000)")
		q.Add("_pragma", "foreign_keys(1)")
		for k, v := range cfg.Options {
			q.Add("_pragma", fmt.Sprintf("%s(%s)", k, v))
		}
		// file: URIs may already carry a query (mode=memory&cache=shared).
		sep := "?"
		if strings.Contains(cfg.Path, "?") {
			sep = "&"
		}
		return cfg.Path + sep + q.Encode(), "sqlite", nil

	case DriverPostgres:
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:   "/" + cfg.Database,
		}
		q := u.Query()
		q.Set("sslmode", sslmode)
		for k, v := range cfg.Options {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u.String(), "pgx", nil

	case DriverMySQL:
		q := url.Values{}
		q.Set("parseTime", "true")
		q.Set("loc", "UTC")
		q.Set("charset", "utf8mb4")
		for k, v := range cfg.Options {
			q.Set(k, v)
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, q.Encode())
		return dsn, "mysql", nil

	default:
		return "", "", fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}
