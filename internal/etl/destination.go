package etl

import (
	"context"
)

// ── Destination ────────────────────────────────────────────
// A Destination receives a full copy of a source's table after it has been
// persisted. Destinations never feed back into the merge; the persisted
// table stays the source of truth.

// Destination replaces a named table in a target system.
type Destination interface {
	// Name identifies the destination in logs and run records.
	Name() string

	// Replace drops whatever the destination holds under table and writes t,
	// typed per schema.
	Replace(ctx context.Context, table string, schema Schema, t *Table) (int, error)
}
