package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"microdata/internal/domain"
	"microdata/internal/etl"
	"microdata/internal/etl/sources"
	"microdata/internal/schemas"
)

// ─────────────────────────────────────────────────────────────
// Collector Service — list, fetch and merge catalog sources
// ─────────────────────────────────────────────────────────────

// ErrAlreadyRunning is returned when a source run overlaps another run of
// the same source.
var ErrAlreadyRunning = errors.New("source is already running")

// Step names a collector step, recorded in run history.
const (
	StepList  = "list"
	StepFetch = "fetch"
)

// SourceError is the failure of one source during RunAll.
type SourceError struct {
	Source string
	Step   string
	Err    error
}

func (e *SourceError) Error() string { return e.Source + " " + e.Step + ": " + e.Err.Error() }
func (e *SourceError) Unwrap() error { return e.Err }

// SourceBinding pairs a catalog client with its normalization config.
type SourceBinding struct {
	Source     etl.Source
	Definition schemas.Definition
	Enabled    bool
}

// MirrorTarget is a destination plus the table-name prefix it writes under.
type MirrorTarget struct {
	Dest        etl.Destination
	TablePrefix string
}

// CollectorOptions wires a Collector.
type CollectorOptions struct {
	Sources []SourceBinding
	Tables  domain.TableStore
	Runs    domain.RunStore // optional
	Mirrors []MirrorTarget
	Fetch   etl.FetchOptions
	Emitter EventEmitter // optional
	Logger  *zap.Logger
}

// Collector runs the list and fetch steps of every configured source.
type Collector struct {
	sources map[string]SourceBinding
	order   []string
	tables  domain.TableStore
	runs    domain.RunStore
	mirrors []MirrorTarget
	fetch   etl.FetchOptions
	emitter EventEmitter
	log     *zap.Logger

	running sourceGuard

	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewCollector creates a Collector ready for use.
func NewCollector(opts CollectorOptions) *Collector {
	c := &Collector{
		sources: make(map[string]SourceBinding, len(opts.Sources)),
		tables:  opts.Tables,
		runs:    opts.Runs,
		mirrors: opts.Mirrors,
		fetch:   opts.Fetch,
		emitter: opts.Emitter,
		log:     opts.Logger,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.emitter == nil {
		c.emitter = nopEmitter{}
	}
	if c.fetch.Retryable == nil {
		c.fetch.Retryable = sources.IsTransient
	}
	for _, b := range opts.Sources {
		name := b.Source.Spec().Name
		c.sources[name] = b
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)
	return c
}

// ── Catalog ────────────────────────────────────────────────

// SourceInfo describes a configured source.
type SourceInfo struct {
	Name          string `json:"name"`
	Label         string `json:"label"`
	Enabled       bool   `json:"enabled"`
	ListURL       string `json:"listUrl"`
	DetailURL     string `json:"detailUrl"`
	SchemaVersion int    `json:"schemaVersion"`
	Columns       int    `json:"columns"`
	Running       bool   `json:"running"`
}

// Sources returns every configured source, sorted by name.
func (c *Collector) Sources() []SourceInfo {
	out := make([]SourceInfo, 0, len(c.order))
	for _, name := range c.order {
		b := c.sources[name]
		spec := b.Source.Spec()
		_, running := c.running.Since(name)
		out = append(out, SourceInfo{
			Name:          name,
			Label:         spec.Label,
			Enabled:       b.Enabled,
			ListURL:       spec.ListURL,
			DetailURL:     spec.DetailURL,
			SchemaVersion: b.Definition.Version,
			Columns:       len(b.Definition.Columns),
			Running:       running,
		})
	}
	return out
}

// Definition returns the schema and prefix table of source.
func (c *Collector) Definition(source string) (schemas.Definition, error) {
	b, err := c.binding(source)
	if err != nil {
		return schemas.Definition{}, err
	}
	return b.Definition, nil
}

func (c *Collector) binding(source string) (SourceBinding, error) {
	b, ok := c.sources[source]
	if !ok {
		return SourceBinding{}, eris.Wrapf(etl.ErrUnknownSource, "%s", source)
	}
	return b, nil
}

// enabled returns names when given, otherwise every enabled source.
func (c *Collector) enabled(names []string) []string {
	if len(names) > 0 {
		return names
	}
	var out []string
	for _, name := range c.order {
		if c.sources[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}

// ── List step ──────────────────────────────────────────────

// ListResult summarizes a listing run.
type ListResult struct {
	Source   string        `json:"source"`
	Rows     int           `json:"rows"`
	Location string        `json:"location"`
	Duration time.Duration `json:"duration"`
}

// List fetches the catalog listing of source and persists it, sorted by id,
// as the source's metadata table.
func (c *Collector) List(ctx context.Context, source string) (*ListResult, error) {
	if !c.running.TryLock(source) {
		return nil, eris.Wrapf(ErrAlreadyRunning, "%s", source)
	}
	defer c.running.Unlock(source)
	return c.list(ctx, source)
}

func (c *Collector) list(ctx context.Context, source string) (*ListResult, error) {
	b, err := c.binding(source)
	if err != nil {
		return nil, err
	}
	log := c.log.With(zap.String("source", source))
	run := c.startRun(source, StepList)
	start := time.Now()

	res, err := func() (*ListResult, error) {
		records, err := b.Source.List(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "list catalog")
		}
		table, err := etl.MergeByID(etl.Normalize(records))
		if err != nil {
			return nil, eris.Wrap(err, "sort listing")
		}
		if len(table.Columns) == 0 {
			table = etl.NewTable(etl.KeyColumn)
		}
		key := domain.TableKey{Source: source, Kind: domain.KindMetadata}
		if err := c.tables.Save(ctx, key, table); err != nil {
			return nil, eris.Wrap(err, "save listing")
		}
		return &ListResult{
			Source:   source,
			Rows:     table.Len(),
			Location: c.tables.Location(key),
			Duration: time.Since(start),
		}, nil
	}()

	if err != nil {
		log.Error("collector: list failed", zap.Error(err))
		c.finishRun(run, domain.RunError, err, func(r *domain.RunRecord) {})
		return nil, err
	}
	log.Info("collector: listing saved",
		zap.Int("rows", res.Rows),
		zap.String("location", res.Location),
		zap.Duration("duration", res.Duration),
	)
	c.finishRun(run, domain.RunSuccess, nil, func(r *domain.RunRecord) {
		r.Inventory = res.Rows
		r.Rows = res.Rows
	})
	c.emitter.Emit(ctx, "collector:listed", res)
	return res, nil
}

// ── Fetch step ─────────────────────────────────────────────

// Fetch merges the detail documents of every listed id not yet in the
// source's datasets table.
func (c *Collector) Fetch(ctx context.Context, source string) (*etl.Result, error) {
	if !c.running.TryLock(source) {
		return nil, eris.Wrapf(ErrAlreadyRunning, "%s", source)
	}
	defer c.running.Unlock(source)
	return c.fetchStep(ctx, source)
}

func (c *Collector) fetchStep(ctx context.Context, source string) (*etl.Result, error) {
	b, err := c.binding(source)
	if err != nil {
		return nil, err
	}
	log := c.log.With(zap.String("source", source))
	run := c.startRun(source, StepFetch)

	res, err := c.merge(ctx, source, b, log)
	if err != nil {
		c.finishRun(run, domain.RunError, err, func(r *domain.RunRecord) { fillRun(r, res) })
		return res, err
	}

	status := domain.RunSuccess
	if !res.Changed {
		status = domain.RunNoop
	}
	c.finishRun(run, status, nil, func(r *domain.RunRecord) { fillRun(r, res) })
	if res.Persisted {
		c.mirror(ctx, source, b.Definition.Schema, res.Table, log)
	}
	c.emitter.Emit(ctx, "collector:fetched", map[string]any{
		"source":  source,
		"newIds":  len(res.NewIDs),
		"fetched": res.Fetched,
		"failed":  len(res.Failures),
		"rows":    res.Table.Len(),
	})
	return res, nil
}

func (c *Collector) merge(ctx context.Context, source string, b SourceBinding, log *zap.Logger) (*etl.Result, error) {
	// 1. INVENTORY
	metaKey := domain.TableKey{Source: source, Kind: domain.KindMetadata}
	meta, err := c.tables.Load(ctx, metaKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no listing for %s at %s, run list first: %w", source, c.tables.Location(metaKey), err)
	}
	if err != nil {
		return nil, eris.Wrap(err, "load listing")
	}
	inventory, err := meta.IDs()
	if err != nil {
		return nil, eris.Wrap(err, "listing ids")
	}

	// 2. PRIOR
	dataKey := domain.TableKey{Source: source, Kind: domain.KindDatasets}
	prior, err := c.tables.Load(ctx, dataKey)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("collector: no persisted datasets, starting fresh")
		prior, err = nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "load datasets")
	}

	// 3. MERGE
	p := &etl.Pipeline{
		Source:   source,
		Schema:   b.Definition.Schema,
		Prefixes: b.Definition.Prefixes,
		Fetch:    b.Source.Fetch,
		Options:  c.fetch,
		Logger:   log,
		Persist: func(ctx context.Context, t *etl.Table) error {
			return c.tables.Save(ctx, dataKey, t)
		},
	}
	return p.Run(ctx, inventory, prior)
}

// mirror replaces the source's table in every configured mirror. Failures
// are logged only; the persisted table remains the source of truth.
func (c *Collector) mirror(ctx context.Context, source string, schema etl.Schema, t *etl.Table, log *zap.Logger) {
	for _, m := range c.mirrors {
		table := m.TablePrefix + source
		n, err := m.Dest.Replace(ctx, table, schema, t)
		if err != nil {
			log.Warn("collector: mirror failed",
				zap.String("mirror", m.Dest.Name()),
				zap.String("table", table),
				zap.Error(err),
			)
			continue
		}
		log.Info("collector: mirrored",
			zap.String("mirror", m.Dest.Name()),
			zap.String("table", table),
			zap.Int("rows", n),
		)
	}
}

// ── Run ────────────────────────────────────────────────────

// RunAll lists then fetches each named source, or every enabled source when
// names is empty. One failing source does not stop the others; the returned
// error joins every SourceError.
func (c *Collector) RunAll(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range c.enabled(names) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.Run(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run lists then fetches one source. The error is a *SourceError.
func (c *Collector) Run(ctx context.Context, source string) error {
	if !c.running.TryLock(source) {
		return &SourceError{Source: source, Step: StepList, Err: ErrAlreadyRunning}
	}
	defer c.running.Unlock(source)

	if _, err := c.list(ctx, source); err != nil {
		return &SourceError{Source: source, Step: StepList, Err: err}
	}
	if _, err := c.fetchStep(ctx, source); err != nil {
		return &SourceError{Source: source, Step: StepFetch, Err: err}
	}
	return nil
}

// ── History ────────────────────────────────────────────────

// History returns the latest runs of source, or of every source when source
// is empty.
func (c *Collector) History(source string, limit int) ([]domain.RunRecord, error) {
	if c.runs == nil {
		return nil, nil
	}
	return c.runs.ListRuns(source, limit)
}

func (c *Collector) startRun(source, step string) *domain.RunRecord {
	run := &domain.RunRecord{Source: source, Stage: step, StartedAt: time.Now(), Status: domain.RunRunning}
	if c.runs == nil {
		return run
	}
	if err := c.runs.CreateRun(run); err != nil {
		c.log.Warn("collector: record run failed", zap.String("source", source), zap.Error(err))
	}
	return run
}

func (c *Collector) finishRun(run *domain.RunRecord, status domain.RunStatus, runErr error, fill func(*domain.RunRecord)) {
	run.Status = status
	run.FinishedAt = time.Now()
	if runErr != nil {
		run.Error = runErr.Error()
	}
	fill(run)
	if c.runs == nil || run.ID == "" {
		return
	}
	if err := c.runs.UpdateRun(run); err != nil {
		c.log.Warn("collector: record run failed", zap.String("source", run.Source), zap.Error(err))
	}
}

func fillRun(r *domain.RunRecord, res *etl.Result) {
	if res == nil {
		return
	}
	r.Inventory = res.Inventory
	r.NewIDs = len(res.NewIDs)
	r.Fetched = res.Fetched
	r.Failed = len(res.Failures)
	r.Rows = res.Table.Len()
}

// ── Describe ───────────────────────────────────────────────

// DatasetSummary describes a persisted datasets table.
type DatasetSummary struct {
	Source   string   `json:"source"`
	Location string   `json:"location"`
	Rows     int      `json:"rows"`
	Columns  []string `json:"columns"`
	FirstID  int64    `json:"firstId,omitempty"`
	LastID   int64    `json:"lastId,omitempty"`
	Filled   []int    `json:"filled"` // non-null cells per column
}

// Describe summarizes the persisted datasets table of source.
func (c *Collector) Describe(ctx context.Context, source string) (*DatasetSummary, error) {
	if _, err := c.binding(source); err != nil {
		return nil, err
	}
	key := domain.TableKey{Source: source, Kind: domain.KindDatasets}
	t, err := c.tables.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	sum := &DatasetSummary{
		Source:   source,
		Location: c.tables.Location(key),
		Rows:     t.Len(),
		Columns:  t.Columns,
		Filled:   make([]int, len(t.Columns)),
	}
	for _, r := range t.Rows {
		for i, col := range t.Columns {
			if !r[col].IsEmpty() {
				sum.Filled[i]++
			}
		}
	}
	if ids, err := t.IDs(); err == nil && len(ids) > 0 {
		sum.FirstID, sum.LastID = ids[0], ids[len(ids)-1]
	}
	return sum, nil
}

// ── Watchers (cron + file watch) ──────────────────────────

// Schedule runs RunAll for names on the cron expression until ctx is
// cancelled. Overlapping ticks for a busy source are skipped.
func (c *Collector) Schedule(ctx context.Context, expr string, names ...string) error {
	sched := cron.New()
	_, err := sched.AddFunc(expr, func() {
		c.log.Info("collector cron: tick", zap.Strings("sources", c.enabled(names)))
		if err := c.RunAll(ctx, names...); err != nil {
			c.log.Error("collector cron: run failed", zap.Error(err))
		}
		c.emitter.Emit(ctx, "collector:scheduled-run", expr)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	c.mu.Lock()
	c.cronSched = sched
	c.mu.Unlock()

	sched.Start()
	c.log.Info("collector cron: scheduled", zap.String("expr", expr))
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

// Watch re-runs the fetch step of a source whenever its persisted metadata
// file changes, until ctx is cancelled. Only file-backed stores can be
// watched.
func (c *Collector) Watch(ctx context.Context, names ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	pathToSource := make(map[string]string)
	watchedDirs := make(map[string]bool)
	for _, name := range c.enabled(names) {
		if _, err := c.binding(name); err != nil {
			watcher.Close()
			return err
		}
		absPath, err := filepath.Abs(c.tables.Location(domain.TableKey{Source: name, Kind: domain.KindMetadata}))
		if err != nil {
			c.log.Warn("collector watcher: bad path", zap.String("source", name), zap.Error(err))
			continue
		}
		pathToSource[absPath] = name

		dir := filepath.Dir(absPath)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				watcher.Close()
				return fmt.Errorf("watch dir %q: %w", dir, err)
			}
			watchedDirs[dir] = true
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.watcher = watcher
	c.watchCancel = cancel
	c.mu.Unlock()
	defer c.stopWatchers()

	c.log.Info("collector watcher: watching", zap.Int("files", len(pathToSource)))

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-watchCtx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Renames over the file arrive as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			source, ok := pathToSource[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[source]; exists {
				t.Stop()
			}
			timers[source] = time.AfterFunc(500*time.Millisecond, func() {
				c.log.Info("collector watcher: listing changed", zap.String("source", source))
				if _, err := c.Fetch(watchCtx, source); err != nil {
					c.log.Error("collector watcher: fetch failed", zap.String("source", source), zap.Error(err))
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("collector watcher: error", zap.Error(err))
		}
	}
}

// Running returns the sources with a step in flight.
func (c *Collector) Running() []string {
	return c.running.Running()
}

// WaitRunning blocks until all running sources finish or ctx is cancelled.
// Used for graceful shutdown.
func (c *Collector) WaitRunning(ctx context.Context) {
	c.running.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (c *Collector) Stop() {
	c.stopWatchers()
}

func (c *Collector) stopWatchers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}
	if c.cronSched != nil {
		c.cronSched.Stop()
		c.cronSched = nil
	}
}
