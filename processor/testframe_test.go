package processor

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Helpers that encode feed frames the way the upstream sends them.

type testOHLC struct {
	interval string
	open     float64
	high     float64
	low      float64
	close    float64
	vol      int64
	tsMs     int64
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encodeOHLC(o testOHLC) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOHLCInterval, protowire.BytesType)
	b = protowire.AppendString(b, o.interval)
	b = appendDouble(b, fieldOHLCOpen, o.open)
	b = appendDouble(b, fieldOHLCHigh, o.high)
	b = appendDouble(b, fieldOHLCLow, o.low)
	b = appendDouble(b, fieldOHLCClose, o.close)
	b = appendInt(b, fieldOHLCVol, o.vol)
	b = appendInt(b, fieldOHLCTs, o.tsMs)
	return b
}

func encodeLTPC(ltp float64, ltt int64) []byte {
	var b []byte
	b = appendDouble(b, fieldLTPCLtp, ltp)
	b = appendInt(b, fieldLTPCLtt, ltt)
	b = appendInt(b, fieldLTPCLtq, 10)
	b = appendDouble(b, fieldLTPCCp, ltp-1)
	return b
}

func encodeMarketOHLC(entries ...testOHLC) []byte {
	var b []byte
	for _, e := range entries {
		b = appendMessage(b, fieldOHLCList, encodeOHLC(e))
	}
	return b
}

func encodeMarketFeed(ltp float64, entries ...testOHLC) []byte {
	var market []byte
	market = appendMessage(market, fieldMarketLTPC, encodeLTPC(ltp, 1700000000000))
	market = appendMessage(market, fieldMarketOHLC, encodeMarketOHLC(entries...))
	market = appendDouble(market, fieldMarketATP, ltp)
	market = appendInt(market, fieldMarketVTT, 12345)
	market = appendDouble(market, fieldMarketTBQ, 500)
	market = appendDouble(market, fieldMarketTSQ, 400)

	var full []byte
	full = appendMessage(full, fieldFullMarket, market)

	var feed []byte
	feed = appendMessage(feed, fieldFeedFull, full)
	feed = appendInt(feed, fieldFeedRequestMode, 2)
	return feed
}

func encodeIndexFeed(ltp float64, entries ...testOHLC) []byte {
	var index []byte
	index = appendMessage(index, fieldIndexLTPC, encodeLTPC(ltp, 1700000000000))
	index = appendMessage(index, fieldIndexOHLC, encodeMarketOHLC(entries...))

	var full []byte
	full = appendMessage(full, fieldFullIndex, index)

	var feed []byte
	feed = appendMessage(feed, fieldFeedFull, full)
	return feed
}

func encodeResponse(feedType int64, currentTs int64, feeds map[string][]byte) []byte {
	var b []byte
	b = appendInt(b, fieldResponseType, feedType)
	for key, feed := range feeds {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = appendMessage(entry, fieldMapValue, feed)
		b = appendMessage(b, fieldResponseFeeds, entry)
	}
	b = appendInt(b, fieldResponseCurrentTs, currentTs)
	return b
}
