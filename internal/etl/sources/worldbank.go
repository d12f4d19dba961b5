package sources

import (
	"context"

	"microdata/internal/etl"
)

// ── World Bank Microdata Library ───────────────────────────

// WorldBank is the registry name of the World Bank catalog.
const WorldBank = "worldbank"

var worldBankSpec = etl.SourceSpec{
	Name:      WorldBank,
	Label:     "World Bank Microdata Library",
	ListURL:   "https://microdata.worldbank.org/index.php/api/catalog/list_idno/survey",
	DetailURL: "https://microdata.worldbank.org/index.php/metadata/export/{id}",
}

type worldBankSource struct {
	*catalogClient
}

func init() {
	etl.RegisterSource(worldBankSpec, func(cfg etl.SourceConfig) etl.Source {
		return &worldBankSource{newCatalogClient(worldBankSpec, cfg)}
	})
}

func (s *worldBankSource) Spec() etl.SourceSpec { return s.spec }

// List returns the survey inventory found under "records".
func (s *worldBankSource) List(ctx context.Context) ([]etl.Record, error) {
	return s.listRows(ctx, "records")
}

// Fetch returns the DDI export of one survey. The export carries no id of
// its own; the fetch coordinator stamps it.
func (s *worldBankSource) Fetch(ctx context.Context, id int64) (etl.Record, error) {
	return s.detail(ctx, id)
}
