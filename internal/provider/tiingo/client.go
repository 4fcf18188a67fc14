// Package tiingo adapts the Tiingo REST API to the provider contract.
package tiingo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/market"
)

const defaultBaseURL = "https://api.tiingo.com"

// Source labels recorded in PriceRecord.Extra["source"].
const (
	SourceIEX         = "iex"
	SourceEOD         = "eod"
	SourceEODPrevious = "eod-previous"
)

// Config represents Tiingo client configuration
type Config struct {
	APIKey    string
	BaseURL   string
	Calendar  string // MIC, e.g. XNYS
	RateLimit float64
	RateBurst int
	Timeout   time.Duration
}

// Client is a Tiingo equities provider. Indices are not supported.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	calendar   *tradingCalendar
	now        func() time.Time
	log        logger.Logger

	sources []source
}

// source fetches one symbol from one endpoint. A nil record with a nil
// error means the endpoint has nothing for the symbol.
type source struct {
	name  string
	fetch func(ctx context.Context, ticker string) (*market.PriceRecord, error)
}

// NewClient creates a new Tiingo client
func NewClient(config Config, log logger.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		calendar:   newTradingCalendar(config.Calendar),
		now:        time.Now,
		log:        logger.Component(log, "tiingo"),
	}
	c.sources = []source{
		{SourceIEX, c.fetchIEX},
		{SourceEOD, c.fetchEODToday},
		{SourceEODPrevious, c.fetchEODPrevious},
	}
	return c
}

// SetClock replaces the time source, for tests.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Client) Name() string { return "tiingo" }

// FetchPrices resolves each symbol through the source chain. Symbols with
// no data are skipped; symbols whose lookup failed are logged and skipped.
// When nothing resolved and at least one lookup failed the failure is
// returned, so an upstream outage is not reported as unknown symbols.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) ([]market.PriceRecord, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	results := make([]market.PriceRecord, 0, len(symbols))
	var failures []error

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		rec, err := c.quote(ctx, symbol)
		if err != nil {
			c.log.Warn("Failed to fetch symbol", "symbol", symbol, "error", err)
			failures = append(failures, err)
			continue
		}
		if rec == nil {
			c.log.Debug("No data available for symbol", "symbol", symbol)
			continue
		}
		results = append(results, *rec)
	}

	if len(results) == 0 && len(failures) > 0 {
		if ctx.Err() != nil {
			return nil, apperrors.Timeout("tiingo request aborted", ctx.Err())
		}
		return nil, apperrors.Upstream("tiingo: no symbol resolved", errors.Join(failures...)).
			WithContext("failed", len(failures))
	}
	return results, nil
}

// FetchIndices is unsupported; Tiingo has no index data.
func (c *Client) FetchIndices(ctx context.Context, symbols []string) ([]market.IndexRecord, error) {
	return nil, nil
}

// quote walks the sources in order until one has data. Hard errors stop
// the walk so a broken upstream is not mistaken for an unknown symbol.
func (c *Client) quote(ctx context.Context, symbol string) (*market.PriceRecord, error) {
	ticker := CleanSymbol(symbol)

	for _, src := range c.sources {
		rec, err := src.fetch(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}

		rec.Symbol = symbol
		if rec.Extra == nil {
			rec.Extra = make(map[string]interface{})
		}
		rec.Extra["source"] = src.name
		rec.Extra["ticker"] = ticker
		rec.Extra["displaySymbol"] = DisplaySymbol(symbol)
		return rec, nil
	}
	return nil, nil
}

type iexQuote struct {
	Ticker            string     `json:"ticker"`
	Timestamp         *time.Time `json:"timestamp"`
	LastSaleTimestamp *time.Time `json:"lastSaleTimestamp"`
	Last              *float64   `json:"last"`
	TngoLast          *float64   `json:"tngoLast"`
	PrevClose         *float64   `json:"prevClose"`
	Open              *float64   `json:"open"`
	High              *float64   `json:"high"`
	Low               *float64   `json:"low"`
	Volume            *uint64    `json:"volume"`
	BidPrice          *float64   `json:"bidPrice"`
	AskPrice          *float64   `json:"askPrice"`
}

type eodBar struct {
	Date     time.Time `json:"date"`
	Close    float64   `json:"close"`
	High     *float64  `json:"high"`
	Low      *float64  `json:"low"`
	Open     *float64  `json:"open"`
	Volume   *uint64   `json:"volume"`
	AdjClose *float64  `json:"adjClose"`
}

func (c *Client) fetchIEX(ctx context.Context, ticker string) (*market.PriceRecord, error) {
	var quotes []iexQuote
	found, err := c.getJSON(ctx, "/iex/"+url.PathEscape(ticker), nil, &quotes)
	if err != nil || !found || len(quotes) == 0 {
		return nil, err
	}

	q := quotes[0]
	var price float64
	switch {
	case q.Last != nil:
		price = *q.Last
	case q.TngoLast != nil:
		price = *q.TngoLast
	default:
		return nil, nil
	}

	prev := price
	if q.PrevClose != nil {
		prev = *q.PrevClose
	}
	change, percent := market.ComputeChange(price, prev)

	ts := c.now()
	if q.Timestamp != nil {
		ts = *q.Timestamp
	}

	extra := make(map[string]interface{})
	putFloat(extra, "openPrice", q.Open)
	putFloat(extra, "highPrice", q.High)
	putFloat(extra, "lowPrice", q.Low)
	putFloat(extra, "closePrice", q.PrevClose)
	putFloat(extra, "bidPrice", q.BidPrice)
	putFloat(extra, "askPrice", q.AskPrice)

	return &market.PriceRecord{
		Price:         price,
		Change:        change,
		PercentChange: percent,
		Volume:        deref(q.Volume),
		Timestamp:     ts,
		Extra:         extra,
	}, nil
}

func (c *Client) fetchEODToday(ctx context.Context, ticker string) (*market.PriceRecord, error) {
	today := c.calendar.today(c.now())
	bars, err := c.eodRange(ctx, ticker, today, today)
	if err != nil || len(bars) == 0 {
		return nil, err
	}
	bar := bars[len(bars)-1]

	// missing previous close leaves the change at zero
	prev := bar.Close
	prevDay := c.calendar.previousTradingDay(today)
	if prior, err := c.eodRange(ctx, ticker, prevDay.AddDate(0, 0, -1), prevDay); err == nil && len(prior) > 0 {
		prev = prior[len(prior)-1].Close
	} else if err != nil {
		c.log.Debug("Previous close unavailable", "ticker", ticker, "error", err)
	}

	change, percent := market.ComputeChange(bar.Close, prev)
	rec := bar.record()
	rec.Change = change
	rec.PercentChange = percent
	rec.Extra["closePrice"] = prev
	return rec, nil
}

// fetchEODPrevious serves the prior trading day's close. There is no
// reference point for it, so change and percent change are zero.
func (c *Client) fetchEODPrevious(ctx context.Context, ticker string) (*market.PriceRecord, error) {
	prevDay := c.calendar.previousTradingDay(c.now())
	bars, err := c.eodRange(ctx, ticker, prevDay.AddDate(0, 0, -1), prevDay)
	if err != nil || len(bars) == 0 {
		return nil, err
	}
	return bars[len(bars)-1].record(), nil
}

func (b eodBar) record() *market.PriceRecord {
	extra := make(map[string]interface{})
	putFloat(extra, "openPrice", b.Open)
	putFloat(extra, "highPrice", b.High)
	putFloat(extra, "lowPrice", b.Low)

	return &market.PriceRecord{
		Price:     b.Close,
		Volume:    deref(b.Volume),
		Timestamp: b.Date,
		Extra:     extra,
	}
}

func (c *Client) eodRange(ctx context.Context, ticker string, start, end time.Time) ([]eodBar, error) {
	query := url.Values{}
	query.Set("startDate", start.Format(dateLayout))
	query.Set("endDate", end.Format(dateLayout))

	var bars []eodBar
	found, err := c.getJSON(ctx, "/tiingo/daily/"+url.PathEscape(ticker)+"/prices", query, &bars)
	if err != nil || !found {
		return nil, err
	}
	return bars, nil
}

// getJSON performs a rate-limited GET. A 404 reports found=false; any other
// non-2xx status, transport failure or undecodable body is an upstream error.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest interface{}) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, apperrors.Timeout("tiingo rate limiter wait aborted", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.config.APIKey)
	reqURL := c.config.BaseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, apperrors.Timeout("tiingo request aborted", err)
		}
		return false, apperrors.Upstream("tiingo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeUpstream,
			fmt.Sprintf("tiingo returned status %d", resp.StatusCode),
			strings.TrimSpace(string(body)), nil).
			WithContext("status", resp.StatusCode).
			WithContext("path", path)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false, apperrors.Upstream("failed to decode tiingo response", err)
	}
	return true, nil
}

func putFloat(m map[string]interface{}, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
