package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/campuskit/portal-core/pkg/account"
	"github.com/campuskit/portal-core/pkg/account/postgres"
	"github.com/campuskit/portal-core/pkg/cache"
	rediscache "github.com/campuskit/portal-core/pkg/cache/redis"
	"github.com/campuskit/portal-core/pkg/database/migrate"
	"github.com/campuskit/portal-core/pkg/secrets"
)

// Options configures the portal.
type Options struct {
	// Store overrides the PostgreSQL store built from config.
	Store account.Store

	// Cache overrides the cache built from config.
	Cache cache.Cache

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Option is a functional option for configuring the portal.
type Option func(*Options)

// WithStore sets the account store.
func WithStore(store account.Store) Option {
	return func(o *Options) {
		o.Store = store
	}
}

// WithCache sets the cache.
func WithCache(c cache.Cache) Option {
	return func(o *Options) {
		o.Cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Portal bundles the account manager, the cache read-through loader and
// the background refresher behind one lifecycle.
type Portal struct {
	cfg       *Config
	store     account.Store
	cache     cache.Cache
	manager   *Manager
	loader    *cache.Loader
	refresher *Refresher
	logger    *slog.Logger
}

// New builds a portal from config. Without an injected store it opens the
// configured PostgreSQL database and runs migrations; without an injected
// cache it connects to the configured Redis, falling back to the
// in-process memory cache when no Redis address is set.
func New(cfg *Config, opts ...Option) (*Portal, error) {
	if cfg == nil {
		return nil, errors.New("portal: config is required")
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := options.Store
	if store == nil {
		var err error
		store, err = openStore(cfg.Database)
		if err != nil {
			return nil, err
		}
	}

	cch := options.Cache
	if cch == nil {
		cch = buildCache(cfg.Redis)
	}

	cipher, err := secrets.FromKey(cfg.Secrets.Key)
	if err != nil {
		return nil, err
	}

	manager, err := NewManager(store, cch, cipher, logger)
	if err != nil {
		return nil, err
	}

	refresher, err := NewRefresher(store, cch, cfg.Refresher.Interval, logger)
	if err != nil {
		return nil, err
	}

	return &Portal{
		cfg:       cfg,
		store:     store,
		cache:     cch,
		manager:   manager,
		loader:    cache.NewLoader(cch),
		refresher: refresher,
		logger:    logger,
	}, nil
}

// openStore opens the PostgreSQL database, verifies connectivity, brings
// the schema up to date and wraps it in the account store.
func openStore(cfg DatabaseConfig) (account.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("portal: database.dsn is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return postgres.New(db), nil
}

// buildCache selects Redis when an address is configured, otherwise the
// in-process memory cache with its cleanup routine running.
func buildCache(cfg RedisConfig) cache.Cache {
	if cfg.Addr != "" {
		return rediscache.New(rediscache.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	mem := cache.NewMemory()
	mem.StartCleanupRoutine(time.Minute)
	return mem
}

// Manager returns the account manager.
func (p *Portal) Manager() *Manager {
	return p.manager
}

// Loader returns the cache read-through loader. Callers combine it with
// Config.Cache.TTLFor to cache downstream portal responses.
func (p *Portal) Loader() *cache.Loader {
	return p.loader
}

// TTLFor returns the configured cache TTL for an entry kind.
func (p *Portal) TTLFor(kind string) time.Duration {
	return p.cfg.Cache.TTLFor(kind)
}

// Start launches the background refresher.
func (p *Portal) Start(_ context.Context) error {
	return p.refresher.Start()
}

// Stop stops the refresher and closes the cache and the store.
func (p *Portal) Stop(_ context.Context) error {
	p.refresher.Close()

	var errs []error
	if err := p.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing cache: %w", err))
	}
	if err := p.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
