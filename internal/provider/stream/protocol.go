package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire format of the Tiingo IEX feed.

type subscribeRequest struct {
	EventName     string         `json:"eventName"`
	Authorization string         `json:"authorization"`
	EventData     subscribeEvent `json:"eventData"`
}

type subscribeEvent struct {
	ThresholdLevel int      `json:"thresholdLevel,omitempty"`
	Tickers        []string `json:"tickers"`
}

func subscribeMessage(event, apiKey string, tickers []string) subscribeRequest {
	req := subscribeRequest{
		EventName:     event,
		Authorization: apiKey,
		EventData:     subscribeEvent{Tickers: tickers},
	}
	if event == "subscribe" {
		// 5 = last trade updates only
		req.EventData.ThresholdLevel = 5
	}
	return req
}

type feedMessage struct {
	MessageType string            `json:"messageType"`
	Service     string            `json:"service"`
	Response    feedResponse      `json:"response"`
	Data        []json.RawMessage `json:"data"`
}

type feedResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type trade struct {
	ticker    string
	price     float64
	size      uint64
	timestamp time.Time
}

// Positions in an IEX "A" data array.
const (
	fieldUpdateType = 0
	fieldDate       = 1
	fieldTicker     = 3
	fieldLastPrice  = 9
	fieldLastSize   = 10
)

// parseTrade decodes a trade update. Quote updates and trades without a
// price return nil.
func parseTrade(data []json.RawMessage) (*trade, error) {
	if len(data) <= fieldLastSize {
		return nil, fmt.Errorf("short trade message: %d fields", len(data))
	}

	var updateType string
	if err := json.Unmarshal(data[fieldUpdateType], &updateType); err != nil {
		return nil, fmt.Errorf("update type: %w", err)
	}
	if updateType != "T" {
		return nil, nil
	}

	var (
		t     trade
		price *float64
		size  *float64
	)
	if err := json.Unmarshal(data[fieldTicker], &t.ticker); err != nil {
		return nil, fmt.Errorf("ticker: %w", err)
	}
	if err := json.Unmarshal(data[fieldDate], &t.timestamp); err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	if err := json.Unmarshal(data[fieldLastPrice], &price); err != nil {
		return nil, fmt.Errorf("last price: %w", err)
	}
	if err := json.Unmarshal(data[fieldLastSize], &size); err != nil {
		return nil, fmt.Errorf("last size: %w", err)
	}
	if price == nil {
		return nil, nil
	}

	t.price = *price
	if size != nil && *size > 0 {
		t.size = uint64(*size)
	}
	return &t, nil
}
