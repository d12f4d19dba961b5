package domain

import (
	"context"
	"errors"

	"microdata/internal/etl"
)

// ErrNotFound is returned when a persisted table does not exist yet.
var ErrNotFound = errors.New("not found")

// TableKind names one of the two tables every source persists.
type TableKind string

const (
	// KindMetadata is the catalog listing: one row per inventory entry.
	KindMetadata TableKind = "metadata"
	// KindDatasets is the merged, schema-conformant detail table.
	KindDatasets TableKind = "datasets"
)

// TableKey identifies a persisted table.
type TableKey struct {
	Source string    `json:"source"`
	Kind   TableKind `json:"kind"`
}

func (k TableKey) String() string { return k.Source + "/" + string(k.Kind) }

// TableStore reads and fully replaces persisted tables. Load returns
// ErrNotFound when nothing was written under key. Save must not leave a
// partially written table behind on failure.
type TableStore interface {
	Load(ctx context.Context, key TableKey) (*etl.Table, error)
	Save(ctx context.Context, key TableKey, t *etl.Table) error
	// Location describes where key lives (file path, object key, table).
	Location(key TableKey) string
}
