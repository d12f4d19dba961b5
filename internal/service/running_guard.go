package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExportedSourceGuard is an exported alias so _test packages can test the guard.
type ExportedSourceGuard = sourceGuard

// ─────────────────────────────────────────────────────────────
// sourceGuard — one list or fetch step per source at a time
// ─────────────────────────────────────────────────────────────

// sourceGuard tracks which sources have a step in flight. Different sources
// never block each other; they touch disjoint tables.
type sourceGuard struct {
	mu      sync.Mutex
	running map[string]time.Time // source -> start
	wg      sync.WaitGroup
}

// TryLock claims source. It returns false without blocking when the source
// is already claimed.
func (g *sourceGuard) TryLock(source string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]time.Time)
	}
	if _, busy := g.running[source]; busy {
		return false
	}
	g.running[source] = time.Now()
	g.wg.Add(1)
	return true
}

// Unlock releases a source claimed by TryLock.
func (g *sourceGuard) Unlock(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[source]; !busy {
		return
	}
	delete(g.running, source)
	g.wg.Done()
}

// Running returns the claimed sources, sorted.
func (g *sourceGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for source := range g.running {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Since returns when source was claimed, if it is.
func (g *sourceGuard) Since(source string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.running[source]
	return at, ok
}

// WaitAll blocks until every claimed source is released or ctx is done.
func (g *sourceGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
