package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cvdflow/internal/symbols"
	"cvdflow/logger"
	"cvdflow/models"
)

// HistoricalRequest selects a batch of candles. To and From are dates in
// YYYY-MM-DD form as the API expects them.
type HistoricalRequest struct {
	Instrument string
	Unit       string
	Interval   string
	To         string
	From       string
}

func (r HistoricalRequest) validate() error {
	if err := symbols.Validate(r.Instrument); err != nil {
		return err
	}
	for name, v := range map[string]string{"unit": r.Unit, "interval": r.Interval, "to": r.To} {
		if strings.TrimSpace(v) == "" || strings.Contains(v, "/") {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}
	if strings.Contains(r.From, "/") {
		return fmt.Errorf("invalid from %q", r.From)
	}
	return nil
}

func (c *Client) historicalURL(r HistoricalRequest) string {
	parts := []string{
		strings.TrimRight(c.cfg.HistoricalURL, "/"),
		symbols.PathEscape(r.Instrument),
		r.Unit,
		r.Interval,
		r.To,
	}
	if r.From != "" {
		parts = append(parts, r.From)
	}
	return strings.Join(parts, "/")
}

type historicalResponse struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]json.RawMessage `json:"candles"`
	} `json:"data"`
}

// FetchCandles returns the candles of one historical batch sorted by time.
func (c *Client) FetchCandles(ctx context.Context, r HistoricalRequest) ([]models.HistoricalCandle, error) {
	r.Instrument = symbols.Normalize(r.Instrument)
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("historical candles: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.historicalURL(r), nil)
	if err != nil {
		return nil, fmt.Errorf("historical candles: %w", err)
	}

	start := time.Now()
	resp, err := c.do(req, "historical", r.Instrument)
	if err != nil {
		return nil, fmt.Errorf("historical candles %s: %w", r.Instrument, err)
	}
	defer resp.Body.Close()

	var body historicalResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("historical candles %s: decode response: %w", r.Instrument, err)
	}

	candles := make([]models.HistoricalCandle, 0, len(body.Data.Candles))
	for i, row := range body.Data.Candles {
		candle, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("historical candles %s: row %d: %w", r.Instrument, i, err)
		}
		candles = append(candles, candle)
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	c.log.WithComponent("upstox_historical").WithInstrument(r.Instrument).WithFields(logger.Fields{
		"candles":     len(candles),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("fetched historical candles")
	return candles, nil
}

// parseCandleRow decodes [timestamp, open, high, low, close, volume, oi].
// Open interest is optional.
func parseCandleRow(row []json.RawMessage) (models.HistoricalCandle, error) {
	var c models.HistoricalCandle
	if len(row) < 6 {
		return c, fmt.Errorf("expected at least 6 columns, got %d", len(row))
	}

	var stamp string
	if err := json.Unmarshal(row[0], &stamp); err != nil {
		return c, fmt.Errorf("timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return c, fmt.Errorf("timestamp: %w", err)
	}
	c.Timestamp = ts.Unix()

	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.OpenInterest}
	for i, dst := range fields {
		if i+1 >= len(row) {
			break
		}
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return c, fmt.Errorf("column %d: %w", i+1, err)
		}
	}
	return c, nil
}
