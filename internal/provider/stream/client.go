// Package stream keeps prices warm from a push feed. Trades received over the
// WebSocket are written straight into the price store, so subscribed symbols
// are served from cache without waiting for a sweep.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/logger"
	"marketpulse/internal/market"
	"marketpulse/internal/provider/tiingo"
)

// RecordWriter is the slice of the price store the client needs.
type RecordWriter interface {
	Get(ctx context.Context, symbol string) (market.PriceRecord, bool, error)
	Set(ctx context.Context, symbol string, rec market.PriceRecord, ttl time.Duration) error
}

// Config represents stream client configuration
type Config struct {
	URL            string
	APIKey         string
	TTL            time.Duration
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
}

// Client is a WebSocket subscriber speaking the Tiingo IEX feed protocol.
type Client struct {
	config Config
	store  RecordWriter
	log    logger.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	tickers map[string]string // upstream ticker (lower case) -> canonical symbol

	writeMu sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	// OnTick is called after each stored tick, when set.
	OnTick func(rec market.PriceRecord)
}

// NewClient creates a new stream client
func NewClient(config Config, store RecordWriter, log logger.Logger) *Client {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &Client{
		config:  config,
		store:   store,
		log:     logger.Component(log, "stream"),
		tickers: make(map[string]string),
		done:    make(chan struct{}),
	}
}

// Start dials the feed and spawns the read and keep-alive loops. Lost
// connections are re-dialled until Close.
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.run(ctx)
	go c.keepAlive(ctx)
	return nil
}

// Close stops the loops and closes the connection.
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		c.wg.Wait()
	})
	return err
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	tickers := c.subscribedTickers()
	c.mu.Unlock()

	c.log.Info("WebSocket connected", "url", c.config.URL, "symbols", len(tickers))

	if len(tickers) > 0 {
		return c.send(subscribeMessage("subscribe", c.config.APIKey, tickers))
	}
	return nil
}

// Subscribe starts streaming symbols.
func (c *Client) Subscribe(ctx context.Context, symbols []string) error {
	var added []string

	c.mu.Lock()
	for _, sym := range market.CanonicalSymbols(symbols) {
		ticker := strings.ToLower(tiingo.CleanSymbol(sym))
		if _, ok := c.tickers[ticker]; ok {
			continue
		}
		c.tickers[ticker] = sym
		added = append(added, ticker)
	}
	connected := c.conn != nil
	c.mu.Unlock()

	if len(added) == 0 || !connected {
		return nil
	}
	return c.send(subscribeMessage("subscribe", c.config.APIKey, added))
}

// Unsubscribe stops streaming symbols.
func (c *Client) Unsubscribe(ctx context.Context, symbols []string) error {
	var removed []string

	c.mu.Lock()
	for _, sym := range market.CanonicalSymbols(symbols) {
		ticker := strings.ToLower(tiingo.CleanSymbol(sym))
		if _, ok := c.tickers[ticker]; !ok {
			continue
		}
		delete(c.tickers, ticker)
		removed = append(removed, ticker)
	}
	connected := c.conn != nil
	c.mu.Unlock()

	if len(removed) == 0 || !connected {
		return nil
	}
	return c.send(subscribeMessage("unsubscribe", c.config.APIKey, removed))
}

// Subscribed returns the canonical symbols currently streamed.
func (c *Client) Subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.tickers))
	for _, sym := range c.tickers {
		out = append(out, sym)
	}
	return out
}

func (c *Client) subscribedTickers() []string {
	out := make([]string, 0, len(c.tickers))
	for t := range c.tickers {
		out = append(out, t)
	}
	return out
}

func (c *Client) send(msg interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn != nil {
			c.readLoop(ctx, conn)
		}

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(c.config.ReconnectDelay):
		}

		if err := c.connect(ctx); err != nil {
			c.log.Warn("Reconnect failed", "error", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
		}
	}
}

// readLoop consumes messages until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("Failed to read message", "error", err)
			}
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			return
		}

		if err := c.handleMessage(ctx, message); err != nil {
			c.log.Debug("Dropped message", "error", err)
		}
	}
}

func (c *Client) keepAlive(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn != nil {
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
				c.writeMu.Unlock()
				if err != nil {
					c.log.Warn("Failed to send ping", "error", err)
				}
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, raw []byte) error {
	var msg feedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch msg.MessageType {
	case "A":
		return c.handleTrade(ctx, msg.Data)
	case "E":
		c.log.Error("Feed reported an error", "code", msg.Response.Code, "message", msg.Response.Message)
	case "I":
		c.log.Debug("Feed info", "message", msg.Response.Message)
	}
	return nil
}

func (c *Client) handleTrade(ctx context.Context, data []json.RawMessage) error {
	t, err := parseTrade(data)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}

	c.mu.RLock()
	symbol, ok := c.tickers[strings.ToLower(t.ticker)]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	rec, found, err := c.store.Get(ctx, symbol)
	if err != nil {
		c.log.Debug("Store read failed, writing fresh record", "symbol", symbol, "error", err)
		found = false
	}
	if !found {
		rec = market.PriceRecord{Symbol: symbol, Extra: map[string]interface{}{}}
	}
	if rec.Extra == nil {
		rec.Extra = map[string]interface{}{}
	}

	rec.Price = t.price
	rec.Volume += t.size
	rec.Timestamp = t.timestamp
	if prev, ok := rec.Extra["closePrice"].(float64); ok {
		rec.Change, rec.PercentChange = market.ComputeChange(t.price, prev)
	}
	rec.Extra["source"] = "stream"

	if err := c.store.Set(ctx, symbol, rec, c.config.TTL); err != nil {
		return fmt.Errorf("store tick for %s: %w", symbol, err)
	}
	if c.OnTick != nil {
		c.OnTick(rec)
	}
	return nil
}
