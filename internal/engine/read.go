package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/market"
)

// lookupConcurrency bounds parallel store reads within one request.
const lookupConcurrency = 16

// read implements the read path for one namespace:
// track and look up concurrently, fetch every miss in one provider call,
// write the results back and merge.
func read[T any](ctx context.Context, e *Engine, ns *namespace[T], requested []string) (map[string]T, error) {
	symbols := market.CanonicalSymbols(requested)
	if len(symbols) == 0 {
		return nil, apperrors.InvalidRequest("at least one symbol is required")
	}

	opts := e.Options()
	log := e.log.WithContext(ctx).WithField("namespace", ns.name)

	records := make([]T, len(symbols))
	found := make([]bool, len(symbols))

	var g errgroup.Group
	g.SetLimit(lookupConcurrency)

	if opts.TrackingEnabled {
		g.Go(func() error {
			if err := ns.tracker.Track(ctx, symbols); err != nil {
				log.Warn("Failed to track access", "error", err)
			}
			return nil
		})
	}
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			rec, ok, err := ns.records.Get(ctx, sym)
			if err != nil {
				// a store read failure is a miss
				log.Warn("Cache read failed", "symbol", sym, "error", err)
				return nil
			}
			records[i], found[i] = rec, ok
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]T, len(symbols))
	var misses []string
	for i, sym := range symbols {
		if found[i] {
			out[sym] = records[i]
		} else {
			misses = append(misses, sym)
		}
	}
	e.metrics.RecordLookup(ns.name, len(out), len(misses))

	if len(misses) == 0 {
		return out, nil
	}

	fetched, fetchErr := fetchBatch(ctx, e, ns, opts, misses, "read")

	wanted := make(map[string]struct{}, len(misses))
	for _, sym := range misses {
		wanted[sym] = struct{}{}
	}

	var resolved []string
	for _, rec := range fetched {
		sym := ns.symbolOf(rec)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		out[sym] = rec
		resolved = append(resolved, sym)

		if err := ns.records.Set(ctx, sym, rec, opts.CacheTTL); err != nil {
			log.Warn("Cache write failed", "symbol", sym, "error", err)
		}
	}

	if ns.subscribe && len(resolved) > 0 {
		e.subscribe(ctx, resolved)
	}

	if len(out) > 0 {
		if fetchErr != nil {
			log.Warn("Provider failed, serving cached subset", "misses", len(misses), "error", fetchErr)
		}
		return out, nil
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	return nil, apperrors.NotFound("no data available for the requested symbols").
		WithContext("symbols", symbols)
}

// fetchBatch makes one provider call under the upstream timeout and maps
// foreign errors onto the taxonomy.
func fetchBatch[T any](ctx context.Context, e *Engine, ns *namespace[T], opts Options, symbols []string, path string) ([]T, error) {
	fctx, cancel := context.WithTimeout(ctx, opts.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	recs, err := ns.fetch(fctx, e.provider, symbols)
	e.metrics.RecordProviderCall(ns.name, path, time.Since(start), err)

	if err == nil {
		return recs, nil
	}
	if apperrors.IsAppError(err) {
		return recs, err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return recs, apperrors.Timeout("provider call timed out", err).WithContext("provider", e.provider.Name())
	}
	return recs, apperrors.Upstream("provider call failed", err).WithContext("provider", e.provider.Name())
}

func (e *Engine) subscribe(ctx context.Context, symbols []string) {
	if err := e.subscriber.Subscribe(ctx, symbols); err != nil {
		e.log.Warn("Subscribe failed", "symbols", len(symbols), "error", err)
	}
}

func (e *Engine) unsubscribe(ctx context.Context, symbols []string) {
	if err := e.subscriber.Unsubscribe(ctx, symbols); err != nil {
		e.log.Warn("Unsubscribe failed", "symbols", len(symbols), "error", err)
	}
}
