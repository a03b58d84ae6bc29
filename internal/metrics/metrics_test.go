package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCandleSplitsByResult(t *testing.T) {
	const instrument = "NSE_EQ|TEST-CANDLE"
	ObserveCandle(instrument, true)
	ObserveCandle(instrument, true)
	ObserveCandle(instrument, false)

	if got := testutil.ToFloat64(candles.WithLabelValues(instrument, "accepted")); got != 2 {
		t.Fatalf("accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(candles.WithLabelValues(instrument, "rejected")); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
}

func TestObserveDelivery(t *testing.T) {
	const instrument = "NSE_EQ|TEST-DELIVERY"
	ObserveDelivery(instrument, 2, 1)

	if got := testutil.ToFloat64(deliveries.WithLabelValues(instrument)); got != 2 {
		t.Fatalf("deliveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(deliveryFailures.WithLabelValues(instrument)); got != 1 {
		t.Fatalf("failures = %v, want 1", got)
	}
}

func TestSetSubscribersOverwrites(t *testing.T) {
	const instrument = "NSE_EQ|TEST-GAUGE"
	SetSubscribers(instrument, 3)
	SetSubscribers(instrument, 1)

	if got := testutil.ToFloat64(subscribers.WithLabelValues(instrument)); got != 1 {
		t.Fatalf("subscribers = %v, want 1", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	ObserveReconnect("NSE_EQ|TEST-HANDLER")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cvdflow_reconnects_total{instrument="NSE_EQ|TEST-HANDLER"} 1`) {
		t.Fatalf("reconnect series missing from exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("go collector missing from exposition")
	}
}
