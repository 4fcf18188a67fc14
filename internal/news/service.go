// Package news serves the Tiingo news feed through the shared store. Each
// distinct query is cached as one feed for the configured TTL.
package news

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketpulse/internal/cache"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/store"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
	DefaultTTL   = 15 * time.Minute
)

// Fetcher is the upstream news source.
type Fetcher interface {
	FetchNews(ctx context.Context, q market.NewsQuery) ([]market.NewsArticle, error)
}

// Feed is a cached news response.
type Feed struct {
	Articles   []market.NewsArticle `json:"articles"`
	TotalCount int                  `json:"total_count"`
	FetchedAt  time.Time            `json:"fetched_at"`
}

// Options configure a Service.
type Options struct {
	TTL          time.Duration
	DefaultLimit int
	Logger       logger.Logger
	Clock        func() time.Time
}

// Service is the cached news feed.
type Service struct {
	feeds        *store.RecordStore[Feed]
	fetcher      Fetcher
	ttl          time.Duration
	defaultLimit int
	log          logger.Logger
	now          func() time.Time
}

// NewService creates a news service caching fetcher's results in kv.
func NewService(kv cache.Store, fetcher Fetcher, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		feeds:        store.NewRecordStore[Feed](kv, store.NewsPrefix),
		fetcher:      fetcher,
		ttl:          opts.TTL,
		defaultLimit: opts.DefaultLimit,
		log:          logger.Component(opts.Logger, "news"),
		now:          opts.Clock,
	}
}

// Trending returns the latest articles across all tickers.
func (s *Service) Trending(ctx context.Context, limit int) (*Feed, error) {
	return s.Get(ctx, market.NewsQuery{Limit: limit})
}

// Ticker returns the latest articles mentioning ticker.
func (s *Service) Ticker(ctx context.Context, ticker string, limit int) (*Feed, error) {
	ticker = market.CanonicalSymbol(ticker)
	if ticker == "" {
		return nil, apperrors.InvalidRequest("ticker is required")
	}
	return s.Get(ctx, market.NewsQuery{Tickers: []string{ticker}, Limit: limit})
}

// Personalized returns articles for a reader's tickers and topics,
// optionally restricted to one source domain.
func (s *Service) Personalized(ctx context.Context, tickers, topics []string, source string, limit int) (*Feed, error) {
	return s.Get(ctx, market.NewsQuery{
		Tickers: market.CanonicalSymbols(tickers),
		Tags:    topics,
		Source:  strings.TrimSpace(source),
		Limit:   limit,
	})
}

// Get serves q from the cache, fetching and caching it on a miss. Store
// failures fall through to the upstream.
func (s *Service) Get(ctx context.Context, q market.NewsQuery) (*Feed, error) {
	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}
	key := cacheKey(q)
	log := s.log.WithContext(ctx).WithField("key", key)

	feed, found, err := s.feeds.Get(ctx, key)
	if err != nil {
		log.Warn("News cache read failed", "error", err)
	} else if found {
		log.Debug("News cache hit")
		return &feed, nil
	}

	articles, err := s.fetcher.FetchNews(ctx, q)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Upstream("news fetch failed", err)
	}
	if articles == nil {
		articles = []market.NewsArticle{}
	}

	feed = Feed{Articles: articles, TotalCount: len(articles), FetchedAt: s.now().UTC()}
	if err := s.feeds.Set(ctx, key, feed, s.ttl); err != nil {
		log.Warn("News cache write failed", "error", err)
	}
	return &feed, nil
}

func (s *Service) normalize(q market.NewsQuery) (market.NewsQuery, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return q, apperrors.InvalidRequest("limit and offset must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = s.defaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	q.Tickers = sortedCopy(q.Tickers, strings.ToUpper)
	q.Tags = sortedCopy(q.Tags, strings.ToLower)
	q.Source = strings.ToLower(q.Source)
	return q, nil
}

// sortedCopy trims, maps and de-duplicates values so equivalent queries
// share a cache key.
func sortedCopy(values []string, fn func(string) string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = fn(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func cacheKey(q market.NewsQuery) string {
	parts := []string{}
	if len(q.Tickers) > 0 {
		parts = append(parts, "tickers:"+strings.Join(q.Tickers, ","))
	}
	if len(q.Tags) > 0 {
		parts = append(parts, "tags:"+strings.Join(q.Tags, ","))
	}
	if q.Source != "" {
		parts = append(parts, "source:"+q.Source)
	}
	if q.Sort != "" {
		parts = append(parts, "sort:"+q.Sort)
	}
	if q.Offset > 0 {
		parts = append(parts, "offset:"+strconv.Itoa(q.Offset))
	}
	parts = append(parts, "limit:"+strconv.Itoa(q.Limit))
	return strings.Join(parts, ":")
}
