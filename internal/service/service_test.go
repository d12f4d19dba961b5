package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"microdata/internal/service"
)

// ─────────────────────────────────────────────────────────────
// sourceGuard tests
// ─────────────────────────────────────────────────────────────

func TestSourceGuard_TryLock(t *testing.T) {
	var g service.ExportedSourceGuard

	require.True(t, g.TryLock("worldbank"))
	assert.False(t, g.TryLock("worldbank"), "same source must not run twice")
	require.True(t, g.TryLock("unhcr"), "other sources are independent")
	assert.Equal(t, []string{"unhcr", "worldbank"}, g.Running())

	g.Unlock("worldbank")
	g.Unlock("unhcr")
	assert.Empty(t, g.Running())

	require.True(t, g.TryLock("worldbank"))
	g.Unlock("worldbank")
}

func TestSourceGuard_UnlockUnclaimedIsNoop(t *testing.T) {
	var g service.ExportedSourceGuard
	g.Unlock("worldbank")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g.WaitAll(ctx)
	assert.NoError(t, ctx.Err(), "WaitAll must not block on an unbalanced unlock")
}

func TestSourceGuard_Since(t *testing.T) {
	var g service.ExportedSourceGuard
	before := time.Now()
	require.True(t, g.TryLock("unhcr"))

	at, ok := g.Since("unhcr")
	require.True(t, ok)
	assert.False(t, at.Before(before))

	_, ok = g.Since("worldbank")
	assert.False(t, ok)
	g.Unlock("unhcr")
}

func TestSourceGuard_WaitAll(t *testing.T) {
	var g service.ExportedSourceGuard
	require.True(t, g.TryLock("worldbank"))

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.WaitAll(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	g.Unlock("worldbank")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAll did not return after unlock")
	}
}

// ─────────────────────────────────────────────────────────────
// Emitter tests
// ─────────────────────────────────────────────────────────────

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "collector:listed", map[string]any{"source": "unhcr"})
	m.Emit(ctx, "collector:fetched", nil)

	require.Len(t, m.Events, 2)
	assert.Equal(t, "collector:listed", m.Events[0].Event)
	assert.Equal(t, []string{"collector:listed", "collector:fetched"}, m.Names())
}

func TestLogEmitter_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		service.NewLogEmitter(nil).Emit(context.Background(), "collector:listed", 1)
		service.NewLogEmitter(zap.NewNop()).Emit(context.Background(), "collector:fetched", nil)
	})
}
