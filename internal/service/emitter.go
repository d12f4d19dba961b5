package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter — decouples the collector from its front ends
// ─────────────────────────────────────────────────────────────

// EventEmitter receives collector progress events. The CLI logs them; the
// MCP server forwards them as notifications. Services receive this
// interface so they stay independently testable with a mock emitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, any) {}

// LogEmitter writes every event to a logger at debug level.
type LogEmitter struct {
	log *zap.Logger
}

// NewLogEmitter returns an emitter logging to log.
func NewLogEmitter(log *zap.Logger) *LogEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, event string, data any) {
	e.log.Debug("collector: event", zap.String("event", event), zap.Any("data", data))
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Names returns the recorded event names in emission order.
func (m *MockEmitter) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Event
	}
	return out
}
