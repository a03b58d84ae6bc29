package models

import "encoding/json"

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// ENRICHED TICKS ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Signal is a directional classification derived from price and CVD.
type Signal string

const (
	SignalNone Signal = ""
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

// Alert is emitted alongside a tick when a signal fires.
type Alert struct {
	Signal Signal `json:"signal"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
}

// EnrichedTick is the unit delivered downstream for every accepted candle.
// It is never mutated after construction.
type EnrichedTick struct {
	Instrument string `json:"-"`
	Time       int64  `json:"time"`
	Price      OHLC   `json:"price"`
	Volume     OHLC   `json:"volume"`
	Alert      *Alert `json:"alert"`
}

// Payload serialises the tick as the subscriber payload.
func (t *EnrichedTick) Payload() ([]byte, error) {
	return json.Marshal(t)
}

// PricePayload is the serialized price entry stored in the history cache.
func (t *EnrichedTick) PricePayload() ([]byte, error) {
	return json.Marshal(historyEntry{Time: t.Time, OHLC: t.Price})
}

// VolumePayload is the serialized CVD entry stored in the history cache.
func (t *EnrichedTick) VolumePayload() ([]byte, error) {
	return json.Marshal(historyEntry{Time: t.Time, OHLC: t.Volume})
}

// AlertPayload is the serialized alert, or nil when the tick has none.
func (t *EnrichedTick) AlertPayload() ([]byte, error) {
	if t.Alert == nil {
		return nil, nil
	}
	return json.Marshal(t.Alert)
}

type historyEntry struct {
	Time int64 `json:"time"`
	OHLC
}

// HistoryPoint is one replayed entry: a timestamp with its stored price and
// CVD payloads.
type HistoryPoint struct {
	Time   int64           `json:"time"`
	Price  json.RawMessage `json:"price"`
	Volume json.RawMessage `json:"volume"`
}

// History is the replay view of an instrument's cache.
type History struct {
	Instrument string            `json:"instrument"`
	Points     []HistoryPoint    `json:"points"`
	Alerts     []json.RawMessage `json:"alerts"`
}
