package models

import "time"

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// CANDLES ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// OHLC is the body of a candle without its timestamp. It is the shape
// subscribers and the history cache receive for both the price and the
// CVD series.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Candle is a fixed-interval price bar. Timestamp is seconds since epoch, UTC.
// Upstream values are passed through without re-validating high/low.
type Candle struct {
	Timestamp int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// OHLC returns the candle body.
func (c Candle) OHLC() OHLC {
	return OHLC{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
}

// Time returns the candle timestamp as a UTC time.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// Rising reports whether the candle closed above its open.
func (c Candle) Rising() bool { return c.Close > c.Open }

// Falling reports whether the candle closed below its open.
func (c Candle) Falling() bool { return c.Close < c.Open }

// HistoricalCandle is one row of the brokerage historical candle API.
type HistoricalCandle struct {
	Candle
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"oi"`
}

// VolumeBar is a histogram point for the historical chart page.
type VolumeBar struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

const (
	// ColorUp is used for bars that closed at or above their open.
	ColorUp = "#26a69a"
	// ColorDown is used for bars that closed below their open.
	ColorDown = "#ef5350"
)

// VolumeBarFor builds the chart volume bar for a historical candle.
func VolumeBarFor(c HistoricalCandle) VolumeBar {
	color := ColorDown
	if c.Close >= c.Open {
		color = ColorUp
	}
	return VolumeBar{Time: c.Timestamp, Value: c.Volume, Color: color}
}
