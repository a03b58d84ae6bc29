package processor

import (
	"math"

	"cvdflow/models"
)

// CvdState carries the running cumulative delta of one stream session.
// Started is false until the first candle has been applied.
type CvdState struct {
	CumulativeDelta  float64
	LastCandleVolume float64
	Started          bool
}

// Delta is the signed volume of one candle: the full volume counts as buying
// when the candle closed up, as selling when it closed down, and flat candles
// contribute nothing.
func Delta(open, close, volume float64) float64 {
	switch {
	case close > open:
		return volume
	case close < open:
		return -volume
	default:
		return 0
	}
}

// Update applies one candle to the state and returns the CVD candle for it.
// The CVD candle opens at the previous cumulative value (or at the new one for
// the very first candle) and closes at the new cumulative value.
func (s *CvdState) Update(open, close, volume float64) models.OHLC {
	next := s.CumulativeDelta + Delta(open, close, volume)

	cvdOpen := next
	if s.Started {
		cvdOpen = s.CumulativeDelta
	}

	s.CumulativeDelta = next
	s.LastCandleVolume = volume
	s.Started = true

	return models.OHLC{
		Open:  cvdOpen,
		High:  math.Max(cvdOpen, next),
		Low:   math.Min(cvdOpen, next),
		Close: next,
	}
}

// Reset returns the state to its unset value.
func (s *CvdState) Reset() {
	*s = CvdState{}
}

// CVDSeries computes the CVD candles for a batch of candles in the given order,
// starting from an empty state. It yields the same values as feeding the
// candles one by one through Update.
func CVDSeries(candles []models.HistoricalCandle) []models.OHLC {
	var state CvdState
	out := make([]models.OHLC, 0, len(candles))
	for _, c := range candles {
		out = append(out, state.Update(c.Open, c.Close, c.Volume))
	}
	return out
}
