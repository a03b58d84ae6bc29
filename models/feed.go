package models

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// UPSTOX FEED V3 ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// FeedType mirrors the FeedResponse.type enum.
type FeedType int32

const (
	FeedTypeInitial    FeedType = 0
	FeedTypeLive       FeedType = 1
	FeedTypeMarketInfo FeedType = 2
)

func (t FeedType) String() string {
	switch t {
	case FeedTypeInitial:
		return "initial_feed"
	case FeedTypeLive:
		return "live_feed"
	case FeedTypeMarketInfo:
		return "market_info"
	default:
		return "unknown"
	}
}

// MinuteInterval is the interval tag of one-minute OHLC entries.
const MinuteInterval = "I1"

// LTPC is the last traded price block of a feed.
type LTPC struct {
	LTP           float64 `json:"ltp"`
	LastTradeTime int64   `json:"ltt"`
	LastTradeQty  int64   `json:"ltq"`
	PreviousClose float64 `json:"cp"`
}

// FeedOHLC is one OHLC entry of a feed's marketOHLC block. TimestampMs is
// milliseconds since epoch as sent upstream.
type FeedOHLC struct {
	Interval    string  `json:"interval"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      int64   `json:"vol"`
	TimestampMs int64   `json:"ts"`
}

// Candle converts the entry to a Candle with a seconds timestamp.
func (o FeedOHLC) Candle() Candle {
	return Candle{
		Timestamp: o.TimestampMs / 1000,
		Open:      o.Open,
		High:      o.High,
		Low:       o.Low,
		Close:     o.Close,
	}
}

// Feed is the decoded per-instrument record. Full-mode market and index
// feeds are flattened into the same struct; Index is set for index feeds.
type Feed struct {
	LTPC         *LTPC      `json:"ltpc,omitempty"`
	OHLC         []FeedOHLC `json:"ohlc,omitempty"`
	Index        bool       `json:"index,omitempty"`
	ATP          float64    `json:"atp,omitempty"`
	VTT          int64      `json:"vtt,omitempty"`
	OI           float64    `json:"oi,omitempty"`
	TotalBuyQty  float64    `json:"tbq,omitempty"`
	TotalSellQty float64    `json:"tsq,omitempty"`
	RequestMode  int32      `json:"requestMode,omitempty"`
}

// FeedResponse is one decoded upstream frame.
type FeedResponse struct {
	Type      FeedType        `json:"type"`
	Feeds     map[string]Feed `json:"feeds"`
	CurrentTs int64           `json:"currentTs"`
}

// MinuteCandle returns the completed one-minute candle for instrument and its
// traded volume. When the frame carries more than one I1 entry the earliest
// one is returned; later entries belong to the minute still forming. ok is
// false when the frame has no minute data for the instrument, which is normal
// for heartbeat and market info frames.
func (r *FeedResponse) MinuteCandle(instrument string) (c Candle, volume float64, ok bool) {
	if r == nil {
		return Candle{}, 0, false
	}
	feed, found := r.Feeds[instrument]
	if !found {
		return Candle{}, 0, false
	}
	var best *FeedOHLC
	for i := range feed.OHLC {
		entry := &feed.OHLC[i]
		if entry.Interval != MinuteInterval {
			continue
		}
		if best == nil || entry.TimestampMs < best.TimestampMs {
			best = entry
		}
	}
	if best == nil {
		return Candle{}, 0, false
	}
	return best.Candle(), float64(best.Volume), true
}
