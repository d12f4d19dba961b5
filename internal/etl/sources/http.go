package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"microdata/internal/etl"
)

// ── HTTP catalog client ────────────────────────────────────
// Shared plumbing for the NADA-style microdata catalogs: one listing call
// that returns every entry, one export call per entry id.

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "microdata-collector/1.0"
	maxErrorBody     = 1024
)

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: http status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("GET %s: http status %d: %s", e.URL, e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: network failures,
// 429 and 5xx responses. Other statuses and malformed bodies are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, etl.ErrDecode) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

type catalogClient struct {
	spec      etl.SourceSpec
	listURL   string
	detailURL string
	userAgent string
	client    *http.Client
	log       *zap.Logger
}

func newCatalogClient(spec etl.SourceSpec, cfg etl.SourceConfig) *catalogClient {
	c := &catalogClient{
		spec:      spec,
		listURL:   firstNonEmpty(cfg.ListURL, spec.ListURL),
		detailURL: firstNonEmpty(cfg.DetailURL, spec.DetailURL),
		userAgent: firstNonEmpty(cfg.UserAgent, defaultUserAgent),
		client:    cfg.Client,
		log:       cfg.Logger,
	}
	c.spec.ListURL, c.spec.DetailURL = c.listURL, c.detailURL
	if c.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.client = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.With(zap.String("source", spec.Name))
	return c
}

func (c *catalogClient) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "build request %s", u)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "GET %s", u)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "read body %s", u)
	}
	return body, nil
}

func (c *catalogClient) getJSON(ctx context.Context, u string) (etl.Value, error) {
	body, err := c.doGET(ctx, u)
	if err != nil {
		return etl.Null(), err
	}
	doc, err := etl.DecodeJSON(body)
	if err != nil {
		return etl.Null(), eris.Wrapf(err, "decode %s", u)
	}
	return doc, nil
}

// listRows fetches the listing document and returns the mappings found at
// path. Rows without a usable id are skipped.
func (c *catalogClient) listRows(ctx context.Context, path ...string) ([]etl.Record, error) {
	doc, err := c.getJSON(ctx, c.listURL)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list", c.spec.Name)
	}
	rows, err := navigatePath(doc, path)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list", c.spec.Name)
	}

	records := make([]etl.Record, 0, len(rows))
	skipped := 0
	for _, item := range rows {
		obj := item.Object()
		if obj == nil {
			skipped++
			continue
		}
		rec := etl.Record{Fields: obj}
		if _, ok := rec.ID(); !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		c.log.Warn("list: skipped rows without id", zap.Int("skipped", skipped))
	}
	c.log.Info("list: fetched inventory", zap.Int("rows", len(records)))
	return records, nil
}

// detail fetches the export document for id.
func (c *catalogClient) detail(ctx context.Context, id int64) (etl.Record, error) {
	u := strings.ReplaceAll(c.detailURL, "{id}", strconv.FormatInt(id, 10))
	doc, err := c.getJSON(ctx, u)
	if err != nil {
		return etl.Record{}, err
	}
	obj := doc.Object()
	if obj == nil {
		return etl.Record{}, eris.Wrapf(etl.ErrDecode, "GET %s: %s document, want object", u, doc.Kind())
	}
	return etl.Record{Fields: obj}, nil
}

// navigatePath walks a key path into nested mappings and returns the list
// found there.
func navigatePath(doc etl.Value, path []string) ([]etl.Value, error) {
	current := doc
	for _, key := range path {
		next, ok := current.Object().Get(key)
		if !ok {
			return nil, eris.Wrapf(etl.ErrDecode, "missing key %q", strings.Join(path, "."))
		}
		current = next
	}
	if current.Kind() != etl.KindList {
		return nil, eris.Wrapf(etl.ErrDecode, "%q is %s, want list", strings.Join(path, "."), current.Kind())
	}
	return current.Items(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
