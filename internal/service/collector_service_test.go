package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microdata/internal/domain"
	"microdata/internal/etl"
	"microdata/internal/schemas"
	"microdata/internal/service"
	"microdata/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Collector: list → fetch → merge against real file stores.
// ─────────────────────────────────────────────────────────────

var testDefinition = schemas.Definition{
	Schema: etl.Schema{
		Source:  "fake",
		Version: 1,
		Columns: []etl.Column{
			{Name: "id", Type: etl.TypeInt64},
			{Name: "study.title", Type: etl.TypeString},
			{Name: "study.producers_name", Type: etl.TypeString},
		},
	},
	Prefixes: etl.PrefixTable{{From: "study_desc.", To: "study."}},
}

// fakeSource serves a fixed inventory. Fetch blocks on gate when set.
type fakeSource struct {
	name    string
	listErr error
	gate    chan struct{}
	started chan struct{}
	once    sync.Once

	mu      sync.Mutex
	ids     []int64
	fetched []int64
}

func (f *fakeSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{Name: f.name, Label: "Fake " + f.name}
}

func (f *fakeSource) setIDs(ids ...int64) {
	f.mu.Lock()
	f.ids = ids
	f.mu.Unlock()
}

func (f *fakeSource) List(context.Context) ([]etl.Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]etl.Record, 0, len(f.ids))
	for _, id := range f.ids {
		rec := etl.NewRecord()
		rec.Fields.Set("id", etl.String(strconv.FormatInt(id, 10)))
		rec.Fields.Set("title", etl.String("listing "+strconv.FormatInt(id, 10)))
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeSource) Fetch(ctx context.Context, id int64) (etl.Record, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return etl.Record{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()

	study := etl.NewObject()
	study.Set("title", etl.String("survey "+strconv.FormatInt(id, 10)))
	study.Set("producers", etl.String(`[{'name': 'NSO'}, {'name': 'WB'}]`))
	rec := etl.NewRecord()
	rec.Fields.Set("id", etl.Int(id))
	rec.Fields.Set("study_desc", etl.ObjectValue(study))
	return rec, nil
}

func (f *fakeSource) fetchedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int64(nil), f.fetched...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fakeMirror records replaced tables.
type fakeMirror struct {
	err    error
	mu     sync.Mutex
	tables map[string]int
}

func (m *fakeMirror) Name() string { return "fake-mirror" }

func (m *fakeMirror) Replace(_ context.Context, table string, _ etl.Schema, t *etl.Table) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables == nil {
		m.tables = map[string]int{}
	}
	m.tables[table] = t.Len()
	return t.Len(), nil
}

type harness struct {
	collector *service.Collector
	tables    *storage.CSVTableStore
	emitter   *service.MockEmitter
	mirror    *fakeMirror
}

func newHarness(t *testing.T, srcs ...*fakeSource) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		tables:  storage.NewCSVTableStore(dir),
		emitter: &service.MockEmitter{},
		mirror:  &fakeMirror{},
	}
	bindings := make([]service.SourceBinding, 0, len(srcs))
	for _, s := range srcs {
		def := testDefinition
		def.Source = s.name
		bindings = append(bindings, service.SourceBinding{Source: s, Definition: def, Enabled: true})
	}
	h.collector = service.NewCollector(service.CollectorOptions{
		Sources: bindings,
		Tables:  h.tables,
		Runs:    storage.NewRunStore(db),
		Mirrors: []service.MirrorTarget{{Dest: h.mirror, TablePrefix: "md_"}},
		Fetch:   etl.FetchOptions{Concurrency: 4},
		Emitter: h.emitter,
	})
	return h
}

func (h *harness) datasetIDs(t *testing.T, source string) []int64 {
	t.Helper()
	tbl, err := h.tables.Load(context.Background(), domain.TableKey{Source: source, Kind: domain.KindDatasets})
	require.NoError(t, err)
	ids, err := tbl.IDs()
	require.NoError(t, err)
	return ids
}

func TestCollector_RunListsThenMerges(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{3, 1, 2}}
	h := newHarness(t, src)
	ctx := context.Background()

	require.NoError(t, h.collector.Run(ctx, "fake"))

	meta, err := h.tables.Load(ctx, domain.TableKey{Source: "fake", Kind: domain.KindMetadata})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, meta.Columns)
	metaIDs, err := meta.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, metaIDs)

	assert.Equal(t, []int64{1, 2, 3}, h.datasetIDs(t, "fake"))
	assert.Equal(t, []int64{1, 2, 3}, src.fetchedIDs())
	assert.Equal(t, 3, h.mirror.tables["md_fake"])

	data, err := h.tables.Load(ctx, domain.TableKey{Source: "fake", Kind: domain.KindDatasets})
	require.NoError(t, err)
	assert.Equal(t, testDefinition.Names(), data.Columns)
	assert.Equal(t, "NSO;WB", data.Get(0, "study.producers_name").Text())

	assert.Equal(t, []string{"collector:listed", "collector:fetched"}, h.emitter.Names())

	runs, err := h.collector.History("fake", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, domain.RunSuccess, r.Status)
	}
}

func TestCollector_FetchOnlyNewIDs(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{1, 2}}
	h := newHarness(t, src)
	ctx := context.Background()
	require.NoError(t, h.collector.Run(ctx, "fake"))

	src.setIDs(1, 2, 5)
	_, err := h.collector.List(ctx, "fake")
	require.NoError(t, err)
	res, err := h.collector.Fetch(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, res.NewIDs)
	assert.Equal(t, []int64{1, 2, 5}, src.fetchedIDs())
	assert.Equal(t, []int64{1, 2, 5}, h.datasetIDs(t, "fake"))
}

func TestCollector_UnchangedInventoryIsNoop(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{1, 2}}
	h := newHarness(t, src)
	ctx := context.Background()
	require.NoError(t, h.collector.Run(ctx, "fake"))

	res, err := h.collector.Fetch(ctx, "fake")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.False(t, res.Persisted)
	assert.Len(t, src.fetchedIDs(), 2)

	runs, err := h.collector.History("fake", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunNoop, runs[0].Status)
}

func TestCollector_FetchWithoutListing(t *testing.T) {
	h := newHarness(t, &fakeSource{name: "fake"})
	_, err := h.collector.Fetch(context.Background(), "fake")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCollector_RunAllIsolatesSourceFailures(t *testing.T) {
	errDown := errors.New("catalog down")
	good := &fakeSource{name: "good", ids: []int64{1}}
	bad := &fakeSource{name: "bad", listErr: errDown}
	h := newHarness(t, good, bad)

	err := h.collector.RunAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)

	var se *service.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad", se.Source)
	assert.Equal(t, service.StepList, se.Step)

	assert.Equal(t, []int64{1}, h.datasetIDs(t, "good"))
}

func TestCollector_UnknownSource(t *testing.T) {
	h := newHarness(t, &fakeSource{name: "fake"})
	_, err := h.collector.List(context.Background(), "nope")
	assert.ErrorIs(t, err, etl.ErrUnknownSource)
}

func TestCollector_MirrorFailureKeepsPersistedTable(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{4}}
	h := newHarness(t, src)
	h.mirror.err = errors.New("mirror offline")

	require.NoError(t, h.collector.Run(context.Background(), "fake"))
	assert.Equal(t, []int64{4}, h.datasetIDs(t, "fake"))
}

func TestCollector_RejectsOverlappingRuns(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{1}, gate: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, src)
	ctx := context.Background()
	_, err := h.collector.List(ctx, "fake")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.collector.Fetch(ctx, "fake")
		done <- err
	}()
	<-src.started
	assert.Equal(t, []string{"fake"}, h.collector.Running())
	assert.True(t, h.collector.Sources()[0].Running)

	_, err = h.collector.List(ctx, "fake")
	assert.ErrorIs(t, err, service.ErrAlreadyRunning)
	assert.ErrorIs(t, h.collector.Run(ctx, "fake"), service.ErrAlreadyRunning)

	close(src.gate)
	require.NoError(t, <-done)
}

func TestCollector_Describe(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{7, 9}}
	h := newHarness(t, src)
	ctx := context.Background()
	require.NoError(t, h.collector.Run(ctx, "fake"))

	sum, err := h.collector.Describe(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, int64(7), sum.FirstID)
	assert.Equal(t, int64(9), sum.LastID)
	assert.Equal(t, []int{2, 2, 2}, sum.Filled)
}

func TestCollector_SourcesSorted(t *testing.T) {
	h := newHarness(t, &fakeSource{name: "zeta"}, &fakeSource{name: "alpha"})
	infos := h.collector.Sources()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, 3, infos[0].Columns)
}

func TestCollector_ScheduleRejectsBadExpression(t *testing.T) {
	h := newHarness(t, &fakeSource{name: "fake"})
	err := h.collector.Schedule(context.Background(), "not a cron")
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestCollector_ScheduleStopsWithContext(t *testing.T) {
	h := newHarness(t, &fakeSource{name: "fake"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.collector.Schedule(ctx, "@every 1h") }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
}

func TestCollector_WatchRefetchesOnListingChange(t *testing.T) {
	src := &fakeSource{name: "fake", ids: []int64{1}}
	h := newHarness(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := h.collector.List(ctx, "fake")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.collector.Watch(ctx, "fake") }()
	// Let the watcher register before the listing changes.
	time.Sleep(100 * time.Millisecond)

	src.setIDs(1, 2)
	_, err = h.collector.List(ctx, "fake")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(src.fetchedIDs()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	h.collector.WaitRunning(waitCtx)
	assert.Equal(t, []int64{1, 2}, h.datasetIDs(t, "fake"))

	cancel()
	require.NoError(t, <-done)
}
