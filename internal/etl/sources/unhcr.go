package sources

import (
	"context"

	"microdata/internal/etl"
)

// ── UNHCR Microdata Library ────────────────────────────────

// UNHCR is the registry name of the UNHCR catalog.
const UNHCR = "unhcr"

// unhcrUserAgent is sent because the catalog rejects non-browser clients.
const unhcrUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var unhcrSpec = etl.SourceSpec{
	Name:      UNHCR,
	Label:     "UNHCR Microdata Library",
	ListURL:   "https://microdata.unhcr.org/index.php/api/catalog/search?ps=9999999&sort_by=created&sort_order=desc",
	DetailURL: "https://microdata.unhcr.org/index.php/metadata/export/{id}/json",
}

type unhcrSource struct {
	*catalogClient
}

func init() {
	etl.RegisterSource(unhcrSpec, func(cfg etl.SourceConfig) etl.Source {
		if cfg.UserAgent == "" {
			cfg.UserAgent = unhcrUserAgent
		}
		return &unhcrSource{newCatalogClient(unhcrSpec, cfg)}
	})
}

func (s *unhcrSource) Spec() etl.SourceSpec { return s.spec }

// List returns the catalog entries found under "result.rows".
func (s *unhcrSource) List(ctx context.Context) ([]etl.Record, error) {
	return s.listRows(ctx, "result", "rows")
}

// Fetch returns the JSON export of one study, stamped with id.
func (s *unhcrSource) Fetch(ctx context.Context, id int64) (etl.Record, error) {
	rec, err := s.detail(ctx, id)
	if err != nil {
		return rec, err
	}
	rec.Fields.Set(etl.KeyColumn, etl.Int(id))
	return rec, nil
}
