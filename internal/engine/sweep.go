package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marketpulse/internal/logger"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration"`
	Prices   NamespaceReport `json:"prices"`
	Indices  NamespaceReport `json:"indices"`
}

// NamespaceReport counts what a sweep did in one namespace.
type NamespaceReport struct {
	Active        int `json:"active"`
	Due           int `json:"due"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failedBatches"`
	Refreshed     int `json:"refreshed"`
	Pruned        int `json:"pruned"`
}

// Sweep refreshes due symbols and prunes stale ones in both namespaces.
// When another sweep holds the cycle lock it returns at once with false.
// Failures are logged and counted, never returned.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, bool) {
	if !e.cycle.TryLock() {
		e.metrics.RecordSweep(0, true)
		e.log.Debug("Sweep already running, skipping")
		return SweepReport{}, false
	}
	defer e.cycle.Unlock()

	opts := e.Options()
	report := SweepReport{ID: uuid.NewString(), Started: e.now()}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, opts.SweepTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, logger.SweepIDKey, report.ID)

	report.Prices = sweep(ctx, e, e.prices, opts)
	report.Indices = sweep(ctx, e, e.indices, opts)

	report.Duration = time.Since(start)
	e.metrics.RecordSweep(report.Duration, false)

	if ctx.Err() != nil {
		e.log.WithContext(ctx).Warn("Sweep hit its deadline", "timeout", opts.SweepTimeout.String())
	}
	e.log.WithContext(ctx).Info("Sweep completed",
		"duration_ms", report.Duration.Milliseconds(),
		"prices_refreshed", report.Prices.Refreshed,
		"prices_pruned", report.Prices.Pruned,
		"indices_refreshed", report.Indices.Refreshed,
		"indices_pruned", report.Indices.Pruned,
		"failed_batches", report.Prices.FailedBatches+report.Indices.FailedBatches,
	)
	return report, true
}

// UpdateAllCachedData is Sweep under the name callers of the old service used.
func (e *Engine) UpdateAllCachedData(ctx context.Context) (SweepReport, bool) {
	return e.Sweep(ctx)
}

// RefreshNow runs a sweep on demand with the same semantics as the timer.
func (e *Engine) RefreshNow(ctx context.Context) (SweepReport, bool) {
	return e.Sweep(ctx)
}

func sweep[T any](ctx context.Context, e *Engine, ns *namespace[T], opts Options) NamespaceReport {
	var report NamespaceReport
	log := e.log.WithContext(ctx).WithField("namespace", ns.name)
	cutoff := e.now().Add(-opts.StaleThreshold)

	due := dueSymbols(ctx, ns, cutoff, opts, log, &report)
	report.Due = len(due)

	if len(due) > 0 {
		refreshed, batches, failed := refresh(ctx, e, ns, opts, due, log)
		report.Refreshed, report.Batches, report.FailedBatches = refreshed, batches, failed
	}

	report.Pruned = prune(ctx, e, ns, cutoff, log)
	return report
}

// dueSymbols returns active symbols whose record is missing, has no expiry
// or expires within the due window.
func dueSymbols[T any](ctx context.Context, ns *namespace[T], cutoff time.Time, opts Options, log logger.Logger, report *NamespaceReport) []string {
	active, err := ns.tracker.ListActive(ctx, cutoff)
	if err != nil {
		log.Error("Failed to list tracked symbols", "error", err)
		return nil
	}
	report.Active = len(active)

	var due []string
	for _, sym := range active {
		ttl, err := ns.records.TTL(ctx, sym)
		if err != nil {
			log.Warn("TTL read failed, treating as due", "symbol", sym, "error", err)
			due = append(due, sym)
			continue
		}
		// KeyMissing and NoExpiry are negative
		if ttl <= opts.DueWindow {
			due = append(due, sym)
		}
	}
	return due
}

func refresh[T any](ctx context.Context, e *Engine, ns *namespace[T], opts Options, due []string, log logger.Logger) (refreshed, batches, failed int) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(opts.BatchConcurrency)

	for start := 0; start < len(due); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(due) {
			end = len(due)
		}
		batch := due[start:end]
		batches++

		g.Go(func() error {
			recs, err := fetchBatch(ctx, e, ns, opts, batch, "sweep")
			e.metrics.RecordSweepBatch(ns.name, err)
			if err != nil {
				log.Warn("Sweep batch failed", "symbols", len(batch), "first", batch[0], "partial", len(recs), "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}

			wanted := make(map[string]struct{}, len(batch))
			for _, sym := range batch {
				wanted[sym] = struct{}{}
			}

			n := 0
			for _, rec := range recs {
				sym := ns.symbolOf(rec)
				if _, ok := wanted[sym]; !ok {
					continue
				}
				if err := ns.records.Set(ctx, sym, rec, opts.CacheTTL); err != nil {
					log.Warn("Cache write failed", "symbol", sym, "error", err)
					continue
				}
				n++
			}

			mu.Lock()
			refreshed += n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return refreshed, batches, failed
}

// prune drops stale symbols from the tracker together with their records.
func prune[T any](ctx context.Context, e *Engine, ns *namespace[T], cutoff time.Time, log logger.Logger) int {
	stale, err := ns.tracker.PruneOlderThan(ctx, cutoff)
	if err != nil {
		log.Error("Failed to prune stale symbols", "error", err)
		return 0
	}

	if len(stale) > 0 {
		if err := ns.records.Delete(ctx, stale...); err != nil {
			log.Warn("Failed to delete stale records", "symbols", len(stale), "error", err)
		}
		if ns.subscribe {
			e.unsubscribe(ctx, stale)
		}
		log.Info("Pruned stale symbols", "count", len(stale))
	}

	remaining, err := ns.tracker.Count(ctx)
	if err != nil {
		log.Debug("Failed to count tracked symbols", "error", err)
	}
	e.metrics.RecordPruned(ns.name, len(stale), int(remaining))
	return len(stale)
}
