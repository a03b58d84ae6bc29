package processor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvdflow/models"
)

func TestDelta(t *testing.T) {
	tests := []struct {
		name        string
		open, close float64
		volume      float64
		want        float64
	}{
		{"up", 10, 12, 100, 100},
		{"down", 12, 11, 50, -50},
		{"flat", 11, 11, 70, 0},
		{"zero volume", 10, 12, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delta(tt.open, tt.close, tt.volume))
		})
	}
}

func TestCvdStateUpdateScenario(t *testing.T) {
	var s CvdState

	first := s.Update(10, 12, 100)
	assert.Equal(t, models.OHLC{Open: 100, High: 100, Low: 100, Close: 100}, first)

	second := s.Update(12, 11, 50)
	assert.Equal(t, models.OHLC{Open: 100, High: 100, Low: 50, Close: 50}, second)

	third := s.Update(11, 13, 80)
	assert.Equal(t, models.OHLC{Open: 50, High: 130, Low: 50, Close: 130}, third)

	assert.True(t, s.Started)
	assert.Equal(t, 130.0, s.CumulativeDelta)
	assert.Equal(t, 80.0, s.LastCandleVolume)
}

func TestCvdStateFirstFlatCandle(t *testing.T) {
	var s CvdState
	got := s.Update(5, 5, 1000)
	assert.Equal(t, models.OHLC{}, got)
	assert.True(t, s.Started)

	s.Reset()
	assert.Equal(t, CvdState{}, s)
}

func TestCvdIncrementalMatchesSumOfDeltas(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	var (
		s   CvdState
		sum float64
	)
	for i := 0; i < 500; i++ {
		open := float64(rng.Intn(100) + 1)
		close := float64(rng.Intn(100) + 1)
		volume := float64(rng.Intn(1000))

		sum += Delta(open, close, volume)
		got := s.Update(open, close, volume)
		require.Equal(t, sum, got.Close, "step %d", i)
		require.Equal(t, sum, s.CumulativeDelta, "step %d", i)
		require.LessOrEqual(t, got.Low, got.Open)
		require.GreaterOrEqual(t, got.High, got.Close)
	}
}

func TestCVDSeriesMatchesIncremental(t *testing.T) {
	candles := []models.HistoricalCandle{
		{Candle: models.Candle{Timestamp: 0, Open: 10, Close: 12}, Volume: 100},
		{Candle: models.Candle{Timestamp: 60, Open: 12, Close: 11}, Volume: 50},
		{Candle: models.Candle{Timestamp: 120, Open: 11, Close: 13}, Volume: 80},
	}

	series := CVDSeries(candles)
	require.Len(t, series, len(candles))

	var s CvdState
	for i, c := range candles {
		assert.Equal(t, s.Update(c.Open, c.Close, c.Volume), series[i])
	}
	assert.Empty(t, CVDSeries(nil))
}
