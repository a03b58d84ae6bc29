package models

import (
	"encoding/json"
	"testing"
)

func TestMinuteCandlePicksEarliestI1(t *testing.T) {
	resp := &FeedResponse{Feeds: map[string]Feed{
		"NSE_EQ|INE002A01038": {OHLC: []FeedOHLC{
			{Interval: "1d", Open: 1, Close: 2, TimestampMs: 0},
			{Interval: MinuteInterval, Open: 12, Close: 11, Volume: 5, TimestampMs: 120_000},
			{Interval: MinuteInterval, Open: 10, Close: 12, Volume: 100, TimestampMs: 60_000},
		}},
	}}

	c, vol, ok := resp.MinuteCandle("NSE_EQ|INE002A01038")
	if !ok {
		t.Fatal("expected a minute candle")
	}
	if c.Timestamp != 60 || c.Open != 10 || c.Close != 12 || vol != 100 {
		t.Fatalf("unexpected candle %+v volume %v", c, vol)
	}
	if !c.Rising() || c.Falling() {
		t.Fatalf("candle direction wrong: %+v", c)
	}
}

func TestMinuteCandleMissing(t *testing.T) {
	var nilResp *FeedResponse
	if _, _, ok := nilResp.MinuteCandle("x"); ok {
		t.Fatal("nil response must not yield a candle")
	}

	resp := &FeedResponse{Feeds: map[string]Feed{
		"NSE_EQ|A": {OHLC: []FeedOHLC{{Interval: "1d", TimestampMs: 1000}}},
	}}
	if _, _, ok := resp.MinuteCandle("NSE_EQ|A"); ok {
		t.Fatal("daily-only feed must not yield a minute candle")
	}
	if _, _, ok := resp.MinuteCandle("NSE_EQ|B"); ok {
		t.Fatal("unknown instrument must not yield a candle")
	}
}

func TestTickPayloadShape(t *testing.T) {
	tick := &EnrichedTick{
		Instrument: "NSE_EQ|INE002A01038",
		Time:       120,
		Price:      OHLC{Open: 11, High: 13, Low: 11, Close: 13},
		Volume:     OHLC{Open: 50, High: 130, Low: 50, Close: 130},
	}

	data, err := tick.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got["instrument"]; ok {
		t.Fatal("instrument must not be part of the payload")
	}
	if got["alert"] != nil {
		t.Fatalf("alert should be null, got %v", got["alert"])
	}
	if got["time"].(float64) != 120 {
		t.Fatalf("time = %v", got["time"])
	}

	alert, err := tick.AlertPayload()
	if err != nil || alert != nil {
		t.Fatalf("expected no alert payload, got %s (%v)", alert, err)
	}

	price, err := tick.PricePayload()
	if err != nil {
		t.Fatalf("price payload: %v", err)
	}
	var entry map[string]float64
	if err := json.Unmarshal(price, &entry); err != nil {
		t.Fatalf("unmarshal price: %v", err)
	}
	if entry["time"] != 120 || entry["close"] != 13 {
		t.Fatalf("unexpected price entry %v", entry)
	}
}

func TestVolumeBarColour(t *testing.T) {
	up := VolumeBarFor(HistoricalCandle{Candle: Candle{Timestamp: 60, Open: 10, Close: 10}, Volume: 7})
	if up.Color != ColorUp || up.Value != 7 || up.Time != 60 {
		t.Fatalf("unexpected bar %+v", up)
	}
	down := VolumeBarFor(HistoricalCandle{Candle: Candle{Open: 10, Close: 9}})
	if down.Color != ColorDown {
		t.Fatalf("expected down colour, got %s", down.Color)
	}
}
