package etl

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	sorted "github.com/tobshub/go-sortedmap"
	"go.uber.org/zap"
)

// ── Incremental Merge Orchestrator ─────────────────────────
// One run per source, strictly sequential:
//
//   START → DIFF → FETCH → NORMALIZE → SCHEMA-ALIGN(new)
//         → SCHEMA-ALIGN(old) → CONCAT → DEDUP/SORT → PERSIST → DONE
//
// Any error before PERSIST returns without calling Persist, so the
// previously written table stays intact.

// ErrMissingKey marks a table without an id column or a row without an id.
var ErrMissingKey = eris.New("missing merge key")

// Stage names a step of the merge state machine.
type Stage string

const (
	StageStart     Stage = "start"
	StageDiff      Stage = "diff"
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageAlignNew  Stage = "schema_align_new"
	StageAlignOld  Stage = "schema_align_old"
	StageConcat    Stage = "concat"
	StageDedup     Stage = "dedup_sort"
	StagePersist   Stage = "persist"
	StageDone      Stage = "done"
)

// StageError wraps the failure of one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// PersistFunc writes the full merged table.
type PersistFunc func(ctx context.Context, t *Table) error

// Pipeline holds everything a source's merge run needs. Schema and
// Prefixes are immutable configuration.
type Pipeline struct {
	Source   string
	Schema   Schema
	Prefixes PrefixTable
	Fetch    FetchFunc
	Options  FetchOptions
	Persist  PersistFunc // nil leaves persistence to the caller
	Logger   *zap.Logger
}

// Result describes one run.
type Result struct {
	Source     string
	Table      *Table
	Inventory  int
	NewIDs     []int64
	Fetched    int
	Failures   map[int64]error
	Anomalies  []Anomaly
	Collisions []Collision
	NewDrift   Drift
	OldDrift   Drift
	Changed    bool // false when the delta was empty
	Persisted  bool
	Duration   time.Duration
}

// NothingToSave reports whether the run produced no table worth writing.
func (r *Result) NothingToSave() bool {
	return !r.Changed || r.Table.Len() == 0
}

// Run merges the records of every inventory id missing from prior into
// prior. prior may be nil when nothing was persisted yet.
func (p *Pipeline) Run(ctx context.Context, inventory []int64, prior *Table) (*Result, error) {
	start := time.Now()
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("source", p.Source))
	res := &Result{Source: p.Source, Failures: map[int64]error{}}
	fail := func(stage Stage, err error) (*Result, error) {
		res.Duration = time.Since(start)
		log.Error("pipeline: run failed", zap.String("stage", string(stage)), zap.Error(err))
		return res, &StageError{Stage: stage, Err: err}
	}

	// 1. DIFF
	if prior != nil && len(prior.Columns) == 0 && prior.Len() == 0 {
		prior = nil
	}
	known := map[int64]bool{}
	if prior != nil {
		ids, err := prior.IDs()
		if err != nil {
			return fail(StageDiff, eris.Wrap(err, "persisted table"))
		}
		for _, id := range ids {
			known[id] = true
		}
	}
	seen := map[int64]bool{}
	for _, id := range inventory {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !known[id] {
			res.NewIDs = append(res.NewIDs, id)
		}
	}
	res.Inventory = len(seen)

	if len(res.NewIDs) == 0 {
		log.Info("pipeline: no new ids", zap.Int("inventory", res.Inventory))
		res.Table = prior
		if res.Table == nil {
			res.Table = NewTable(p.Schema.Names()...)
		}
		res.Duration = time.Since(start)
		return res, nil
	}
	log.Info("pipeline: fetching new ids",
		zap.Int("new_ids", len(res.NewIDs)),
		zap.Int("inventory", res.Inventory),
	)

	// 2. FETCH
	opts := p.Options
	if opts.Logger == nil {
		opts.Logger = log
	}
	records, failures := FetchAll(ctx, res.NewIDs, p.Fetch, opts)
	// Completion order is arbitrary; column order and collision winners
	// must not depend on it.
	slices.SortStableFunc(records, func(a, b Record) int {
		x, _ := a.ID()
		y, _ := b.ID()
		return cmp.Compare(x, y)
	})
	res.Fetched = len(records)
	res.Failures = failures
	if len(failures) > 0 {
		log.Warn("pipeline: fetch failures",
			zap.Int("failed", len(failures)),
			zap.Int("fetched", len(records)),
		)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageFetch, err)
	}

	// 3. NORMALIZE
	flat, anomalies := FlattenBatch(Normalize(records))
	res.Anomalies = anomalies
	for _, a := range anomalies {
		log.Warn("flatten: nested value skipped",
			zap.Int64("id", a.ID),
			zap.Int("row", a.Row),
			zap.String("column", a.Column),
			zap.Error(a.Err),
		)
	}
	renamed, collisions := NormalizePrefixes(flat, p.Prefixes)
	res.Collisions = collisions
	for _, c := range collisions {
		log.Warn("prefix: column collision, last write wins",
			zap.String("column", c.Column),
			zap.Strings("sources", c.Sources),
		)
	}
	if renamed.Len() > 0 && !renamed.HasColumn(KeyColumn) {
		return fail(StageNormalize, eris.Wrap(ErrMissingKey, "fetched batch"))
	}

	// 4. SCHEMA-ALIGN(new)
	fresh, drift, err := Enforce(renamed, p.Schema)
	if err != nil {
		return fail(StageAlignNew, err)
	}
	res.NewDrift = drift
	drift.Log(log, p.Source, string(StageAlignNew))

	// 5. SCHEMA-ALIGN(old)
	var old *Table
	if prior != nil {
		old, drift, err = Enforce(prior, p.Schema)
		if err != nil {
			return fail(StageAlignOld, err)
		}
		res.OldDrift = drift
		drift.Log(log, p.Source, string(StageAlignOld))
	}

	// 6. CONCAT + DEDUP/SORT
	merged, err := MergeByID(old, fresh)
	if err != nil {
		return fail(StageDedup, err)
	}
	res.Table = merged
	res.Changed = fresh.Len() > 0

	// 7. PERSIST
	if res.NothingToSave() {
		log.Info("pipeline: nothing to save")
	} else if p.Persist != nil {
		if err := p.Persist(ctx, merged); err != nil {
			return fail(StagePersist, err)
		}
		res.Persisted = true
	}

	res.Duration = time.Since(start)
	log.Info("pipeline: done",
		zap.Int("rows", merged.Len()),
		zap.Int("fetched", res.Fetched),
		zap.Int("failed", len(res.Failures)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// ── Merge ──────────────────────────────────────────────────

type keyedRow struct {
	id  int64
	row Row
}

func keyedRowLess(a, b keyedRow) bool { return a.id < b.id }

// MergeByID concatenates tables that share one column layout and returns
// one row per id, ascending. A row from a later table replaces an earlier
// row with the same id. Nil tables are skipped.
func MergeByID(tables ...*Table) (*Table, error) {
	var columns []string
	m := sorted.New[int64, keyedRow](0, keyedRowLess)
	for _, t := range tables {
		if t == nil {
			continue
		}
		if columns == nil {
			columns = t.Columns
		}
		if t.Len() == 0 {
			continue
		}
		if !t.HasColumn(KeyColumn) {
			return nil, ErrMissingKey
		}
		for i, r := range t.Rows {
			id, err := rowID(r)
			if err != nil {
				return nil, wrapRow(err, i)
			}
			kr := keyedRow{id: id, row: r}
			if !m.Insert(id, kr) {
				m.Replace(id, kr)
			}
		}
	}

	out := NewTable(columns...)
	if m.Len() == 0 {
		return out, nil
	}
	iterCh, err := m.IterCh()
	if err != nil {
		return nil, eris.Wrap(err, "iterate merged rows")
	}
	for rec := range iterCh.Records() {
		out.Rows = append(out.Rows, rec.Val.row)
	}
	return out, nil
}
