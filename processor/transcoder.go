package processor

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"cvdflow/models"
)

// DecodeError reports a frame that could not be parsed as a FeedResponse.
// A DecodeError never ends a stream; the frame is skipped.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode feed frame (%d bytes): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Field numbers of the market data feed V3 messages.
const (
	fieldResponseType      protowire.Number = 1
	fieldResponseFeeds     protowire.Number = 2
	fieldResponseCurrentTs protowire.Number = 3

	fieldMapKey   protowire.Number = 1
	fieldMapValue protowire.Number = 2

	fieldFeedLTPC        protowire.Number = 1
	fieldFeedFull        protowire.Number = 2
	fieldFeedFirstLevel  protowire.Number = 3
	fieldFeedRequestMode protowire.Number = 4

	fieldFullMarket protowire.Number = 1
	fieldFullIndex  protowire.Number = 2

	fieldMarketLTPC protowire.Number = 1
	fieldMarketOHLC protowire.Number = 4
	fieldMarketATP  protowire.Number = 5
	fieldMarketVTT  protowire.Number = 6
	fieldMarketOI   protowire.Number = 7
	fieldMarketTBQ  protowire.Number = 9
	fieldMarketTSQ  protowire.Number = 10

	fieldIndexLTPC protowire.Number = 1
	fieldIndexOHLC protowire.Number = 2

	fieldFirstLevelLTPC protowire.Number = 1
	fieldFirstLevelVTT  protowire.Number = 4
	fieldFirstLevelOI   protowire.Number = 5

	fieldOHLCList protowire.Number = 1

	fieldOHLCInterval protowire.Number = 1
	fieldOHLCOpen     protowire.Number = 2
	fieldOHLCHigh     protowire.Number = 3
	fieldOHLCLow      protowire.Number = 4
	fieldOHLCClose    protowire.Number = 5
	fieldOHLCVol      protowire.Number = 6
	fieldOHLCTs       protowire.Number = 7

	fieldLTPCLtp protowire.Number = 1
	fieldLTPCLtt protowire.Number = 2
	fieldLTPCLtq protowire.Number = 3
	fieldLTPCCp  protowire.Number = 4
)

// Decode parses one binary feed frame. Unknown fields are skipped so newer
// upstream schemas keep decoding.
func Decode(frame []byte) (*models.FeedResponse, error) {
	resp := &models.FeedResponse{Feeds: make(map[string]models.Feed)}
	err := eachField(frame, func(f wireField) error {
		switch f.num {
		case fieldResponseType:
			if v, ok := f.int(); ok {
				resp.Type = models.FeedType(v)
			}
		case fieldResponseCurrentTs:
			if v, ok := f.int(); ok {
				resp.CurrentTs = v
			}
		case fieldResponseFeeds:
			if f.typ != protowire.BytesType {
				return nil
			}
			key, feed, err := decodeFeedEntry(f.bytes)
			if err != nil {
				return fmt.Errorf("feeds entry: %w", err)
			}
			resp.Feeds[key] = feed
		}
		return nil
	})
	if err != nil {
		return nil, &DecodeError{Size: len(frame), Err: err}
	}
	return resp, nil
}

func decodeFeedEntry(b []byte) (string, models.Feed, error) {
	var (
		key  string
		feed models.Feed
	)
	err := eachField(b, func(f wireField) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case fieldMapKey:
			key = string(f.bytes)
		case fieldMapValue:
			return decodeFeed(f.bytes, &feed)
		}
		return nil
	})
	return key, feed, err
}

func decodeFeed(b []byte, feed *models.Feed) error {
	return eachField(b, func(f wireField) error {
		switch f.num {
		case fieldFeedRequestMode:
			if v, ok := f.int(); ok {
				feed.RequestMode = int32(v)
			}
			return nil
		}
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case fieldFeedLTPC:
			ltpc, err := decodeLTPC(f.bytes)
			if err != nil {
				return err
			}
			feed.LTPC = ltpc
		case fieldFeedFull:
			return decodeFullFeed(f.bytes, feed)
		case fieldFeedFirstLevel:
			return decodeFirstLevel(f.bytes, feed)
		}
		return nil
	})
}

func decodeFullFeed(b []byte, feed *models.Feed) error {
	return eachField(b, func(f wireField) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case fieldFullMarket:
			return decodeMarketFullFeed(f.bytes, feed)
		case fieldFullIndex:
			feed.Index = true
			return decodeIndexFullFeed(f.bytes, feed)
		}
		return nil
	})
}

func decodeMarketFullFeed(b []byte, feed *models.Feed) error {
	return eachField(b, func(f wireField) error {
		switch f.num {
		case fieldMarketLTPC:
			if f.typ == protowire.BytesType {
				ltpc, err := decodeLTPC(f.bytes)
				if err != nil {
					return err
				}
				feed.LTPC = ltpc
			}
		case fieldMarketOHLC:
			if f.typ == protowire.BytesType {
				return decodeMarketOHLC(f.bytes, feed)
			}
		case fieldMarketATP:
			if v, ok := f.double(); ok {
				feed.ATP = v
			}
		case fieldMarketVTT:
			if v, ok := f.int(); ok {
				feed.VTT = v
			}
		case fieldMarketOI:
			if v, ok := f.double(); ok {
				feed.OI = v
			}
		case fieldMarketTBQ:
			if v, ok := f.double(); ok {
				feed.TotalBuyQty = v
			}
		case fieldMarketTSQ:
			if v, ok := f.double(); ok {
				feed.TotalSellQty = v
			}
		}
		return nil
	})
}

func decodeIndexFullFeed(b []byte, feed *models.Feed) error {
	return eachField(b, func(f wireField) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case fieldIndexLTPC:
			ltpc, err := decodeLTPC(f.bytes)
			if err != nil {
				return err
			}
			feed.LTPC = ltpc
		case fieldIndexOHLC:
			return decodeMarketOHLC(f.bytes, feed)
		}
		return nil
	})
}

func decodeFirstLevel(b []byte, feed *models.Feed) error {
	return eachField(b, func(f wireField) error {
		switch f.num {
		case fieldFirstLevelLTPC:
			if f.typ == protowire.BytesType {
				ltpc, err := decodeLTPC(f.bytes)
				if err != nil {
					return err
				}
				feed.LTPC = ltpc
			}
		case fieldFirstLevelVTT:
			if v, ok := f.int(); ok {
				feed.VTT = v
			}
		case fieldFirstLevelOI:
			if v, ok := f.double(); ok {
				feed.OI = v
			}
		}
		return nil
	})
}

func decodeMarketOHLC(b []byte, feed *models.Feed) error {
	return eachField(b, func(f wireField) error {
		if f.num != fieldOHLCList || f.typ != protowire.BytesType {
			return nil
		}
		entry, err := decodeOHLC(f.bytes)
		if err != nil {
			return err
		}
		feed.OHLC = append(feed.OHLC, entry)
		return nil
	})
}

func decodeOHLC(b []byte) (models.FeedOHLC, error) {
	var o models.FeedOHLC
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case fieldOHLCInterval:
			if f.typ == protowire.BytesType {
				o.Interval = string(f.bytes)
			}
		case fieldOHLCOpen:
			o.Open, _ = f.double()
		case fieldOHLCHigh:
			o.High, _ = f.double()
		case fieldOHLCLow:
			o.Low, _ = f.double()
		case fieldOHLCClose:
			o.Close, _ = f.double()
		case fieldOHLCVol:
			o.Volume, _ = f.int()
		case fieldOHLCTs:
			o.TimestampMs, _ = f.int()
		}
		return nil
	})
	return o, err
}

func decodeLTPC(b []byte) (*models.LTPC, error) {
	l := &models.LTPC{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case fieldLTPCLtp:
			l.LTP, _ = f.double()
		case fieldLTPCLtt:
			l.LastTradeTime, _ = f.int()
		case fieldLTPCLtq:
			l.LastTradeQty, _ = f.int()
		case fieldLTPCCp:
			l.PreviousClose, _ = f.double()
		}
		return nil
	})
	return l, err
}

// wireField is one decoded tag/value pair. Only the member matching typ is set.
type wireField struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	fixed  uint64
	bytes  []byte
}

func (f wireField) int() (int64, bool) {
	if f.typ != protowire.VarintType {
		return 0, false
	}
	return int64(f.varint), true
}

func (f wireField) double() (float64, bool) {
	if f.typ != protowire.Fixed64Type {
		return 0, false
	}
	return math.Float64frombits(f.fixed), true
}

func eachField(b []byte, fn func(wireField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := wireField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
