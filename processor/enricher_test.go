package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvdflow/models"
)

func scenarioCandles() []struct {
	candle models.Candle
	volume float64
} {
	return []struct {
		candle models.Candle
		volume float64
	}{
		{models.Candle{Timestamp: 0, Open: 10, High: 12, Low: 10, Close: 12}, 100},
		{models.Candle{Timestamp: 60, Open: 12, High: 12, Low: 11, Close: 11}, 50},
		{models.Candle{Timestamp: 120, Open: 11, High: 13, Low: 11, Close: 13}, 80},
	}
}

func TestEnricherScenario(t *testing.T) {
	e := NewEnricher(testInstrument)

	var ticks []*models.EnrichedTick
	for _, step := range scenarioCandles() {
		tick, ok := e.Enrich(step.candle, step.volume)
		require.True(t, ok)
		ticks = append(ticks, tick)
	}

	assert.Equal(t, []float64{100, 50, 130}, []float64{
		ticks[0].Volume.Close, ticks[1].Volume.Close, ticks[2].Volume.Close,
	})
	assert.Equal(t, models.OHLC{Open: 100, High: 100, Low: 50, Close: 50}, ticks[1].Volume)
	assert.Equal(t, models.OHLC{Open: 50, High: 130, Low: 50, Close: 130}, ticks[2].Volume)

	assert.Nil(t, ticks[0].Alert)
	require.NotNil(t, ticks[1].Alert)
	assert.Equal(t, models.SignalSell, ticks[1].Alert.Signal)
	require.NotNil(t, ticks[2].Alert)
	assert.Equal(t, models.SignalBuy, ticks[2].Alert.Signal)
	assert.Equal(t, int64(120), ticks[2].Alert.Time)

	assert.Equal(t, testInstrument, ticks[2].Instrument)
	assert.Equal(t, models.OHLC{Open: 11, High: 13, Low: 11, Close: 13}, ticks[2].Price)
}

func TestEnricherRejectsReplayWithoutStateChange(t *testing.T) {
	e := NewEnricher(testInstrument)
	for _, step := range scenarioCandles() {
		_, ok := e.Enrich(step.candle, step.volume)
		require.True(t, ok)
	}
	cvdBefore, sigBefore := e.State()

	replay := scenarioCandles()[1]
	tick, ok := e.Enrich(replay.candle, replay.volume)
	assert.False(t, ok)
	assert.Nil(t, tick)

	cvdAfter, sigAfter := e.State()
	assert.Equal(t, cvdBefore, cvdAfter)
	assert.Equal(t, sigBefore, sigAfter)
	last, _ := e.LastTimestamp()
	assert.Equal(t, int64(120), last)
}

func TestEnricherReset(t *testing.T) {
	e := NewEnricher(testInstrument)
	for _, step := range scenarioCandles() {
		e.Enrich(step.candle, step.volume)
	}
	e.Reset()

	cvd, sig := e.State()
	assert.Equal(t, CvdState{}, cvd)
	assert.Equal(t, SignalContext{}, sig)

	// After a reset the series restarts from zero and an earlier timestamp is
	// admitted again.
	tick, ok := e.Enrich(models.Candle{Timestamp: 60, Open: 1, Close: 2}, 10)
	require.True(t, ok)
	assert.Equal(t, models.OHLC{Open: 10, High: 10, Low: 10, Close: 10}, tick.Volume)
	assert.Nil(t, tick.Alert)
}

func TestEnricherResetSessionKeepsGate(t *testing.T) {
	e := NewEnricher(testInstrument)
	for _, step := range scenarioCandles() {
		e.Enrich(step.candle, step.volume)
	}
	e.ResetSession()

	cvd, sig := e.State()
	assert.Equal(t, CvdState{}, cvd)
	assert.Equal(t, SignalContext{}, sig)

	replay := scenarioCandles()[1]
	_, ok := e.Enrich(replay.candle, replay.volume)
	assert.False(t, ok, "t=60 after accepted t=120 must stay rejected")

	tick, ok := e.Enrich(models.Candle{Timestamp: 180, Open: 13, Close: 14}, 10)
	require.True(t, ok)
	assert.Equal(t, models.OHLC{Open: 10, High: 10, Low: 10, Close: 10}, tick.Volume)
}

func TestEnrichedTickPayload(t *testing.T) {
	e := NewEnricher(testInstrument)
	var last *models.EnrichedTick
	for _, step := range scenarioCandles() {
		last, _ = e.Enrich(step.candle, step.volume)
	}

	payload, err := last.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"time": 120,
		"price": {"open": 11, "high": 13, "low": 11, "close": 13},
		"volume": {"open": 50, "high": 130, "low": 50, "close": 130},
		"alert": {"signal": "BUY", "text": "BUY signal: price and CVD rising", "time": 120}
	}`, string(payload))

	first := &models.EnrichedTick{Time: 0}
	payload, err = first.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"alert":null`)

	alert, err := first.AlertPayload()
	require.NoError(t, err)
	assert.Nil(t, alert)
}
