package etl

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ── Source ──────────────────────────────────────────────────
// A Source is one microdata catalog. It lists the current inventory and
// fetches one detail document per id.
// Implementations live in etl/sources/, one file per catalog.

// SourceSpec describes a catalog and its default endpoints.
type SourceSpec struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	ListURL   string `json:"listUrl"`
	DetailURL string `json:"detailUrl"` // contains {id}
}

// SourceConfig carries runtime settings for a Source. Empty URLs fall back
// to the SourceSpec defaults.
type SourceConfig struct {
	ListURL   string
	DetailURL string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
	Logger    *zap.Logger
}

// Source is the interface every catalog must implement.
type Source interface {
	// Spec returns metadata about this catalog.
	Spec() SourceSpec

	// List returns one record per catalog entry. Every record has an id.
	List(ctx context.Context) ([]Record, error)

	// Fetch returns the detail document for id.
	Fetch(ctx context.Context, id int64) (Record, error)
}

// Factory builds a Source from runtime settings.
type Factory func(cfg SourceConfig) Source

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]registered{}
)

type registered struct {
	spec    SourceSpec
	factory Factory
}

// ErrUnknownSource is returned for a name no catalog registered.
var ErrUnknownSource = eris.New("unknown source")

// RegisterSource registers a catalog under spec.Name.
// Called from init() in each source implementation file.
func RegisterSource(spec SourceSpec, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[spec.Name] = registered{spec: spec, factory: f}
}

// NewSource builds the catalog registered under name.
func NewSource(name string, cfg SourceConfig) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "%q", name)
	}
	return r.factory(cfg), nil
}

// ListSources returns the specs of all registered catalogs, sorted by name.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, r := range registry {
		specs = append(specs, r.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
