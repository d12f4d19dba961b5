// Package session wires the configured stores, sources, and mirrors into a
// collector for CLI commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"microdata/internal/config"
	"microdata/internal/dbclient"
	"microdata/internal/domain"
	"microdata/internal/etl"
	_ "microdata/internal/etl/sources" // registers worldbank and unhcr
	"microdata/internal/logging"
	"microdata/internal/schemas"
	"microdata/internal/secret"
	"microdata/internal/service"
	"microdata/internal/storage"
)

// ErrInvalidConfig indicates the config file exists but is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// Options are the root command flags that shape a session.
type Options struct {
	ConfigPath string
	LogLevel   string // overrides the config when set
	LogFormat  string // overrides the config when set

	// Secrets expands env: and keychain: references in credentials.
	// Nil uses secret.NewResolver.
	Secrets *secret.Resolver
}

// Context holds the resolved configuration and the collector built from it.
type Context struct {
	Config    *config.Config
	Logger    *zap.Logger
	Collector *service.Collector

	opened  []*storage.DB
	closers []func() error
}

// Close releases every store and mirror opened for the session.
func (c *Context) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}

// Open builds a session from the config file at opts.ConfigPath.
func Open(ctx context.Context, opts Options) (*Context, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = secret.NewResolver()
	}
	if err := resolveSecrets(cfg, secrets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	sc := &Context{Config: cfg, Logger: log}

	collector, err := sc.build(ctx)
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	sc.Collector = collector
	return sc, nil
}

func (c *Context) build(ctx context.Context) (*service.Collector, error) {
	cfg := c.Config

	// 1. Tables
	tables, err := c.openTables(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Run history
	runs, err := c.openRuns()
	if err != nil {
		return nil, err
	}

	// 3. Sources
	var bindings []service.SourceBinding
	for _, spec := range etl.ListSources() {
		sc := cfg.Source(spec.Name)
		src, err := etl.NewSource(spec.Name, etl.SourceConfig{
			ListURL:   sc.ListURL,
			DetailURL: sc.DetailURL,
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
			Logger:    c.Logger,
		})
		if err != nil {
			return nil, err
		}
		def, err := schemas.Load(spec.Name, sc.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		bindings = append(bindings, service.SourceBinding{Source: src, Definition: def, Enabled: sc.IsEnabled()})
	}
	for _, name := range cfg.SourceNames() {
		if !known(name) {
			return nil, fmt.Errorf("%w: sources.%s: %v", ErrInvalidConfig, name, etl.ErrUnknownSource)
		}
	}

	// 4. Mirrors
	var mirrors []service.MirrorTarget
	for _, mc := range cfg.Mirrors {
		m, err := dbclient.NewMirror(mc, c.Logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, m.Close)
		mirrors = append(mirrors, service.MirrorTarget{Dest: m, TablePrefix: mc.TablePrefix})
	}

	return service.NewCollector(service.CollectorOptions{
		Sources: bindings,
		Tables:  tables,
		Runs:    runs,
		Mirrors: mirrors,
		Fetch: etl.FetchOptions{
			Concurrency: cfg.Fetch.Concurrency,
			Retries:     cfg.Fetch.Retries,
			Backoff:     cfg.Fetch.RetryBackoff,
			Logger:      c.Logger,
		},
		Emitter: service.NewLogEmitter(c.Logger),
		Logger:  c.Logger,
	}), nil
}

func (c *Context) openTables(ctx context.Context) (domain.TableStore, error) {
	cfg := c.Config
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := c.openDB(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		return storage.NewSQLiteTableStore(db), nil
	case config.BackendS3:
		s3 := cfg.Storage.S3
		store, err := storage.NewObjectTableStore(storage.ObjectConfig{
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Region:    s3.Region,
			UseSSL:    s3.UseSSL,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: storage.s3: %v", ErrInvalidConfig, err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return storage.NewCSVTableStore(cfg.DataDir), nil
	}
}

func (c *Context) openRuns() (domain.RunStore, error) {
	db, err := c.openDB(c.Config.HistoryDB())
	if err != nil {
		return nil, err
	}
	return storage.NewRunStore(db), nil
}

// openDB opens path once per session; the tables and runs stores may share
// one file.
func (c *Context) openDB(path string) (*storage.DB, error) {
	for _, db := range c.opened {
		if db.Path() == path {
			return db, nil
		}
	}
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	c.closers = append(c.closers, db.Close)
	c.opened = append(c.opened, db)
	return db, nil
}

func known(name string) bool {
	for _, spec := range etl.ListSources() {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// resolveSecrets replaces credential references in cfg with their values.
func resolveSecrets(cfg *config.Config, secrets *secret.Resolver) error {
	var err error
	s3 := &cfg.Storage.S3
	if s3.AccessKey, err = secrets.Resolve(s3.AccessKey); err != nil {
		return err
	}
	if s3.SecretKey, err = secrets.Resolve(s3.SecretKey); err != nil {
		return err
	}
	for i := range cfg.Mirrors {
		if cfg.Mirrors[i].DSN, err = secrets.Resolve(cfg.Mirrors[i].DSN); err != nil {
			return fmt.Errorf("mirrors[%d]: %w", i, err)
		}
	}
	return nil
}
