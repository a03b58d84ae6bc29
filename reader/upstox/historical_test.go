package upstox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const candlesBody = `{"status":"success","data":{"candles":[
["2025-01-03T09:16:00+05:30",101.5,102,101,101.8,1200,0],
["2025-01-03T09:15:00+05:30",100,101.6,99.5,101.5,3400,0]
]}}`

func TestFetchCandlesBuildsPathAndSorts(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(candlesBody))
	}))
	defer srv.Close()

	candles, err := NewClient(testConfig(srv.URL)).FetchCandles(context.Background(), HistoricalRequest{
		Instrument: "nse_eq:INE002A01038",
		Unit:       "minutes",
		Interval:   "1",
		To:         "2025-01-03",
		From:       "2025-01-01",
	})
	require.NoError(t, err)

	assert.Equal(t, "/historical/NSE_EQ|INE002A01038/minutes/1/2025-01-03/2025-01-01", gotPath)
	require.Len(t, candles, 2)
	assert.Less(t, candles[0].Timestamp, candles[1].Timestamp)
	assert.Equal(t, int64(1735875900), candles[0].Timestamp)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 3400.0, candles[0].Volume)
	assert.Equal(t, 101.8, candles[1].Close)
}

func TestFetchCandlesWithoutFromDate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"success","data":{"candles":[]}}`))
	}))
	defer srv.Close()

	candles, err := NewClient(testConfig(srv.URL)).FetchCandles(context.Background(), HistoricalRequest{
		Instrument: "NSE_INDEX|Nifty 50",
		Unit:       "days",
		Interval:   "1",
		To:         "2025-01-03",
	})
	require.NoError(t, err)
	assert.Empty(t, candles)
	assert.Equal(t, "/historical/NSE_INDEX|Nifty 50/days/1/2025-01-03", gotPath)
}

func TestFetchCandlesRejectsBadRequest(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"))
	cases := []HistoricalRequest{
		{Instrument: "INE002A01038", Unit: "minutes", Interval: "1", To: "2025-01-03"},
		{Instrument: "NSE_EQ|INE002A01038", Unit: "", Interval: "1", To: "2025-01-03"},
		{Instrument: "NSE_EQ|INE002A01038", Unit: "minutes", Interval: "1/2", To: "2025-01-03"},
	}
	for _, r := range cases {
		_, err := client.FetchCandles(context.Background(), r)
		assert.Error(t, err, "%+v", r)
	}
}

func TestFetchCandlesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errors":[{"message":"Invalid date range"}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).FetchCandles(context.Background(), HistoricalRequest{
		Instrument: "NSE_EQ|INE002A01038", Unit: "minutes", Interval: "1", To: "2025-01-03", From: "2025-02-01",
	})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Contains(t, se.Body, "Invalid date range")
}

func TestParseCandleRowErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"candles":[["yesterday",1,2,3,4,5,6]]}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).FetchCandles(context.Background(), HistoricalRequest{
		Instrument: "NSE_EQ|INE002A01038", Unit: "minutes", Interval: "1", To: "2025-01-03",
	})
	assert.ErrorContains(t, err, "timestamp")
}
