package etl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ── Fetch Coordinator ──────────────────────────────────────
// Fans per-id detail fetches out over a bounded pool. A failing id is
// recorded and never cancels its siblings.

// DefaultConcurrency is the in-flight ceiling when none is configured.
const DefaultConcurrency = 20

// FetchFunc retrieves one detail document. It must be safe to call again
// for the same id.
type FetchFunc func(ctx context.Context, id int64) (Record, error)

// FetchOptions tunes FetchAll. The zero value fetches 20 at a time with no
// retries.
type FetchOptions struct {
	Concurrency int
	Retries     int           // extra attempts after the first
	Backoff     time.Duration // attempt n waits n*Backoff
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error except context cancellation.
	Retryable func(error) bool
	Logger    *zap.Logger
}

func (o FetchOptions) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return o.Concurrency
}

func (o FetchOptions) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if o.Retryable == nil {
		return true
	}
	return o.Retryable(err)
}

// FetchAll calls fetch for every id with at most opts.Concurrency calls in
// flight. It returns the records that succeeded, in completion order, and
// the error of every id that did not. Each record carries its id, stamped
// in when the document omits it.
func FetchAll(ctx context.Context, ids []int64, fetch FetchFunc, opts FetchOptions) ([]Record, map[int64]error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var (
		mu       sync.Mutex
		records  = make([]Record, 0, len(ids))
		failures = map[int64]error{}
	)

	var g errgroup.Group
	g.SetLimit(opts.concurrency())
	for _, id := range ids {
		g.Go(func() error {
			rec, err := fetchWithRetry(ctx, id, fetch, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[id] = err
				log.Warn("fetch: id failed", zap.Int64("id", id), zap.Error(err))
				return nil
			}
			records = append(records, stampID(rec, id))
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	return records, failures
}

func fetchWithRetry(ctx context.Context, id int64, fetch FetchFunc, opts FetchOptions) (Record, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			if !opts.retryable(lastErr) {
				break
			}
			select {
			case <-ctx.Done():
				return Record{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * opts.Backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		rec, err := safeFetch(ctx, id, fetch)
		if err == nil {
			return rec, nil
		}
		lastErr = err
	}
	return Record{}, lastErr
}

func safeFetch(ctx context.Context, id int64, fetch FetchFunc) (rec Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("fetch %d panicked: %v", id, p)
		}
	}()
	rec, err = fetch(ctx, id)
	if err == nil && rec.Fields == nil {
		err = eris.Errorf("fetch %d: empty document", id)
	}
	return rec, err
}

// stampID sets the merge key when the document lacks one.
func stampID(rec Record, id int64) Record {
	if v, ok := rec.Fields.Get(KeyColumn); ok && !v.IsEmpty() {
		return rec
	}
	rec.Fields.Set(KeyColumn, Int(id))
	return rec
}
