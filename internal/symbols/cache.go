// Package symbols keeps the bulk symbol reference universe in the shared
// store: JSON chunks of SymbolReference, a lexicographic ticker index for
// prefix search and membership sets per exchange and asset type.
//
// A reload deletes and rebuilds every key. Metadata is written last, so a
// reader racing a reload may briefly undercount but never reads chunk
// metadata that points past the data.
package symbols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketpulse/internal/cache"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/monitoring"
)

// Store keys.
const (
	KeyChunkPrefix   = "symbols_chunk_"
	KeyChunkCount    = "symbols_chunk_count"
	KeyChunkSize     = "symbols_chunk_size"
	KeyIndex         = "symbols:all"
	KeyExchangeSet   = "symbols:exchange:"
	KeyAssetTypeSet  = "symbols:assetType:"
	KeyLastUpdated   = "symbols:last_updated"
	keyPattern       = "symbols*"
	locatorSeparator = "\x1f"
)

const (
	DefaultChunkSize   = 5000
	DefaultSearchLimit = 20
	searchPageSize     = 100
	indexWriteBatch    = 1000
)

// Status is what the cache-status endpoint reports.
type Status struct {
	SymbolCount int        `json:"symbol_count"`
	LastUpdated *time.Time `json:"last_updated"`
}

// Cache is the bulk symbol cache.
type Cache struct {
	store     cache.Store
	source    Source
	chunkSize int
	metrics   *monitoring.Metrics
	log       logger.Logger
	now       func() time.Time

	// held for the whole of Reload
	reloadMu sync.Mutex
}

// Options configure a Cache.
type Options struct {
	ChunkSize int
	Metrics   *monitoring.Metrics
	Logger    logger.Logger
	Clock     func() time.Time
}

// NewCache creates a symbol cache loading from source.
func NewCache(store cache.Store, source Source, opts Options) *Cache {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		store:     store,
		source:    source,
		chunkSize: opts.ChunkSize,
		metrics:   opts.Metrics,
		log:       logger.Component(opts.Logger, "symbols"),
		now:       opts.Clock,
	}
}

// Reload replaces the cached universe with the source's current contents
// and returns the number of symbols written. Concurrent calls run in turn.
func (c *Cache) Reload(ctx context.Context) (int, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	start := time.Now()
	n, err := c.reload(ctx)
	c.metrics.RecordSymbolReload(n, err)
	if err != nil {
		c.log.Error("Symbol reload failed", "source", c.source.Name(), "error", err)
		return 0, err
	}
	c.log.Info("Symbol reload completed", "source", c.source.Name(), "count", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

func (c *Cache) reload(ctx context.Context) (int, error) {
	loaded, err := c.source.Load(ctx)
	if err != nil {
		return 0, apperrors.Upstream("load symbol reference data", err).WithContext("source", c.source.Name())
	}

	refs := make([]market.SymbolReference, 0, len(loaded))
	for _, ref := range loaded {
		ref.Ticker = market.CanonicalSymbol(ref.Ticker)
		if ref.Ticker == "" {
			continue
		}
		ref.Exchange = strings.ToUpper(strings.TrimSpace(ref.Exchange))
		if ref.AssetType == "" {
			ref.AssetType = market.AssetOther
		}
		refs = append(refs, ref)
	}
	if skipped := len(loaded) - len(refs); skipped > 0 {
		c.log.Warn("Skipped symbols without a ticker", "count", skipped)
	}

	if err := c.clear(ctx); err != nil {
		return 0, err
	}

	var (
		index      []cache.Member
		exchanges  = make(map[string][]string)
		assetTypes = make(map[string][]string)
		chunks     int
	)

	for start := 0; start < len(refs); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]

		data, err := json.Marshal(chunk)
		if err != nil {
			return 0, apperrors.Store("encode symbol chunk", err)
		}
		if err := c.store.Set(ctx, chunkKey(chunks), data, 0); err != nil {
			return 0, apperrors.Store("write symbol chunk", err).WithContext("chunk", chunks)
		}

		for offset, ref := range chunk {
			loc := locator(ref.Ticker, chunks, offset)
			index = append(index, cache.Member{Name: loc, Score: 0})
			if ref.Exchange != "" {
				exchanges[ref.Exchange] = append(exchanges[ref.Exchange], loc)
			}
			at := string(ref.AssetType)
			assetTypes[at] = append(assetTypes[at], loc)
		}
		chunks++
	}

	for start := 0; start < len(index); start += indexWriteBatch {
		end := start + indexWriteBatch
		if end > len(index) {
			end = len(index)
		}
		if err := c.store.ZAdd(ctx, KeyIndex, index[start:end]...); err != nil {
			return 0, apperrors.Store("write symbol index", err)
		}
	}
	for ex, locs := range exchanges {
		if err := c.store.SAdd(ctx, KeyExchangeSet+ex, locs...); err != nil {
			return 0, apperrors.Store("write exchange set", err).WithContext("exchange", ex)
		}
	}
	for at, locs := range assetTypes {
		if err := c.store.SAdd(ctx, KeyAssetTypeSet+at, locs...); err != nil {
			return 0, apperrors.Store("write asset type set", err).WithContext("assetType", at)
		}
	}

	// metadata last
	if err := c.store.Set(ctx, KeyChunkSize, []byte(strconv.Itoa(c.chunkSize)), 0); err != nil {
		return 0, apperrors.Store("write chunk size", err)
	}
	if err := c.store.Set(ctx, KeyChunkCount, []byte(strconv.Itoa(chunks)), 0); err != nil {
		return 0, apperrors.Store("write chunk count", err)
	}
	stamp := c.now().UTC().Format(time.RFC3339)
	if err := c.store.Set(ctx, KeyLastUpdated, []byte(stamp), 0); err != nil {
		return 0, apperrors.Store("write last updated", err)
	}

	return len(refs), nil
}

func (c *Cache) clear(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, keyPattern)
	if err != nil {
		return apperrors.Store("list symbol keys", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		return apperrors.Store("delete symbol keys", err)
	}
	return nil
}

// Count returns the number of cached symbols, 0 before the first reload.
func (c *Cache) Count(ctx context.Context) (int, error) {
	chunks, err := c.readInt(ctx, KeyChunkCount)
	if err != nil || chunks == 0 {
		return 0, err
	}
	size, err := c.readInt(ctx, KeyChunkSize)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		size = c.chunkSize
	}

	last, err := c.loadChunk(ctx, chunks-1)
	if err != nil {
		return 0, err
	}
	return (chunks-1)*size + len(last), nil
}

// LastUpdated returns when the last reload finished, or nil if none has.
func (c *Cache) LastUpdated(ctx context.Context) (*time.Time, error) {
	data, err := c.store.Get(ctx, KeyLastUpdated)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store("read last updated", err)
	}
	t, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return nil, apperrors.Store("parse last updated", err)
	}
	return &t, nil
}

// Status combines Count and LastUpdated.
func (c *Cache) Status(ctx context.Context) (Status, error) {
	count, err := c.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	last, err := c.LastUpdated(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{SymbolCount: count, LastUpdated: last}, nil
}

// SearchByPrefix returns up to limit symbols whose ticker starts with
// prefix, in ticker order. The index is read in pages so a short result
// never scans the whole universe.
func (c *Cache) SearchByPrefix(ctx context.Context, prefix string, limit int) ([]market.SymbolReference, error) {
	prefix = market.CanonicalSymbol(prefix)
	if prefix == "" {
		return nil, apperrors.InvalidRequest("search query is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	min, max := "["+prefix, "["+prefix+"\xff"
	var locs []string
	for offset := int64(0); len(locs) < limit; offset += searchPageSize {
		page, err := c.store.ZRangeByLex(ctx, KeyIndex, min, max, offset, searchPageSize)
		if err != nil {
			return nil, apperrors.Store("scan symbol index", err)
		}
		locs = append(locs, page...)
		if len(page) < searchPageSize {
			break
		}
	}
	if len(locs) > limit {
		locs = locs[:limit]
	}
	return c.resolve(ctx, locs)
}

// ByExchange returns up to limit symbols listed on exchange.
func (c *Cache) ByExchange(ctx context.Context, exchange string, limit int) ([]market.SymbolReference, error) {
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if exchange == "" {
		return nil, apperrors.InvalidRequest("exchange is required")
	}
	return c.members(ctx, KeyExchangeSet+exchange, limit)
}

// ByAssetType returns up to limit symbols of the asset type.
func (c *Cache) ByAssetType(ctx context.Context, assetType string, limit int) ([]market.SymbolReference, error) {
	if strings.TrimSpace(assetType) == "" {
		return nil, apperrors.InvalidRequest("asset type is required")
	}
	at, known := market.LookupAssetType(assetType)
	if !known {
		return nil, apperrors.InvalidRequest("unknown asset type").
			WithContext("assetType", assetType).
			WithContext("valid", []market.AssetType{market.AssetStock, market.AssetETF, market.AssetIndex, market.AssetOther})
	}
	return c.members(ctx, KeyAssetTypeSet+string(at), limit)
}

func (c *Cache) members(ctx context.Context, key string, limit int) ([]market.SymbolReference, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	locs, err := c.store.SMembers(ctx, key)
	if err != nil {
		return nil, apperrors.Store("read symbol set", err)
	}
	sort.Strings(locs)
	if len(locs) > limit {
		locs = locs[:limit]
	}
	return c.resolve(ctx, locs)
}

// resolve loads each referenced chunk once and returns the records in
// locator order. Locators left dangling by a concurrent reload are skipped.
func (c *Cache) resolve(ctx context.Context, locs []string) ([]market.SymbolReference, error) {
	chunks := make(map[int][]market.SymbolReference)
	out := make([]market.SymbolReference, 0, len(locs))

	for _, loc := range locs {
		ticker, chunk, offset, ok := parseLocator(loc)
		if !ok {
			c.log.Debug("Malformed symbol locator", "locator", loc)
			continue
		}

		refs, loaded := chunks[chunk]
		if !loaded {
			var err error
			refs, err = c.loadChunk(ctx, chunk)
			if err != nil {
				return nil, err
			}
			chunks[chunk] = refs
		}

		if offset >= len(refs) || refs[offset].Ticker != ticker {
			continue
		}
		out = append(out, refs[offset])
	}
	return out, nil
}

func (c *Cache) loadChunk(ctx context.Context, i int) ([]market.SymbolReference, error) {
	data, err := c.store.Get(ctx, chunkKey(i))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store("read symbol chunk", err).WithContext("chunk", i)
	}
	var refs []market.SymbolReference
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, apperrors.Store("decode symbol chunk", err).WithContext("chunk", i)
	}
	return refs, nil
}

func (c *Cache) readInt(ctx context.Context, key string) (int, error) {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Store("read "+key, err)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, apperrors.Store("parse "+key, err)
	}
	return n, nil
}

func chunkKey(i int) string {
	return KeyChunkPrefix + strconv.Itoa(i)
}

// locator is the index member for a record: TICKER, chunk and offset joined
// by a separator that sorts below every ticker character.
func locator(ticker string, chunk, offset int) string {
	return fmt.Sprintf("%s%s%d%s%d", ticker, locatorSeparator, chunk, locatorSeparator, offset)
}

func parseLocator(loc string) (ticker string, chunk, offset int, ok bool) {
	parts := strings.Split(loc, locatorSeparator)
	if len(parts) != 3 {
		return "", 0, 0, false
	}
	chunk, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, false
	}
	offset, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, 0, false
	}
	return parts[0], chunk, offset, true
}
