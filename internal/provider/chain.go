package provider

import (
	"context"
	"errors"
	"strings"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
)

// Chain tries providers in order. Each provider is asked only for the
// symbols still unresolved; an error from one provider moves its symbols on
// to the next. The chain fails only when nothing resolved and at least one
// provider failed.
type Chain struct {
	providers []Provider
	log       logger.Logger
}

// NewChain builds an ordered chain. A chain of one provider behaves like it.
func NewChain(log logger.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, log: logger.Component(log, "provider-chain")}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c *Chain) FetchPrices(ctx context.Context, symbols []string) ([]market.PriceRecord, error) {
	return run(ctx, c, symbols,
		func(p Provider, remaining []string) ([]market.PriceRecord, error) {
			return p.FetchPrices(ctx, remaining)
		},
		func(r market.PriceRecord) string { return r.Symbol },
	)
}

func (c *Chain) FetchIndices(ctx context.Context, symbols []string) ([]market.IndexRecord, error) {
	return run(ctx, c, symbols,
		func(p Provider, remaining []string) ([]market.IndexRecord, error) {
			return p.FetchIndices(ctx, remaining)
		},
		func(r market.IndexRecord) string { return r.Symbol },
	)
}

// Subscribe forwards to every provider in the chain that accepts pushes.
func (c *Chain) Subscribe(ctx context.Context, symbols []string) error {
	var errs []error
	for _, p := range c.providers {
		if sub, ok := p.(Subscriber); ok {
			if err := sub.Subscribe(ctx, symbols); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe forwards to every provider in the chain that accepts pushes.
func (c *Chain) Unsubscribe(ctx context.Context, symbols []string) error {
	var errs []error
	for _, p := range c.providers {
		if sub, ok := p.(Subscriber); ok {
			if err := sub.Unsubscribe(ctx, symbols); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func run[T any](
	ctx context.Context,
	c *Chain,
	symbols []string,
	fetch func(Provider, []string) ([]T, error),
	symbolOf func(T) string,
) ([]T, error) {
	remaining := symbols
	var out []T
	var errs []error

	for _, p := range c.providers {
		if len(remaining) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, apperrors.Timeout("provider chain aborted", err))
			break
		}

		recs, err := fetch(p, remaining)
		if err != nil {
			c.log.Warn("Provider failed, trying next", "provider", p.Name(), "symbols", len(remaining), "error", err)
			errs = append(errs, err)
			continue
		}

		resolved := make(map[string]struct{}, len(recs))
		for _, r := range recs {
			resolved[symbolOf(r)] = struct{}{}
		}
		out = append(out, recs...)

		next := remaining[:0:0]
		for _, s := range remaining {
			if _, ok := resolved[s]; !ok {
				next = append(next, s)
			}
		}
		remaining = next
	}

	if len(out) == 0 && len(errs) > 0 {
		if len(errs) == 1 {
			return nil, errs[0]
		}
		return nil, apperrors.Upstream("all providers failed", errors.Join(errs...))
	}
	return out, nil
}
