// Registers:
//
//	#cvdflow_frames_received_total
//	#cvdflow_decode_errors_total
//	#cvdflow_candles_total
//	#cvdflow_alerts_total
//	#cvdflow_deliveries_total / #cvdflow_delivery_failures_total
//	#cvdflow_store_errors_total
//	#cvdflow_reconnects_total
//	#cvdflow_subscribers
//	#cvdflow_supervisor_state
//	#go_* and process_* system metrics
//
// Exposed through Handler, mounted by the dashboard server on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cvdflow"

var (
	once     sync.Once
	registry *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	candles          *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	subscribers      *prometheus.GaugeVec
	supervisorState  *prometheus.GaugeVec
)

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// Init builds the registry. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		framesReceived = counter("frames_received_total", "Binary frames read from the upstream feed", "instrument")
		decodeErrors = counter("decode_errors_total", "Frames that failed to decode", "instrument")
		candles = counter("candles_total", "Minute candles seen, by dedup result", "instrument", "result")
		alerts = counter("alerts_total", "Signals raised", "instrument", "signal")
		deliveries = counter("deliveries_total", "Payloads delivered to subscribers", "instrument")
		deliveryFailures = counter("delivery_failures_total", "Subscribers dropped after a failed delivery", "instrument")
		storeErrors = counter("store_errors_total", "History cache operations that failed", "instrument", "op")
		reconnects = counter("reconnects_total", "Upstream sessions restarted", "instrument")
		subscribers = gauge("subscribers", "Connected subscribers", "instrument")
		supervisorState = gauge("supervisor_state", "Current supervisor state as its ordinal", "instrument")

		registry.MustRegister(
			framesReceived, decodeErrors, candles, alerts,
			deliveries, deliveryFailures, storeErrors, reconnects,
			subscribers, supervisorState,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func ObserveFrame(instrument string) {
	Init()
	framesReceived.WithLabelValues(instrument).Inc()
}

func ObserveDecodeError(instrument string) {
	Init()
	decodeErrors.WithLabelValues(instrument).Inc()
}

// ObserveCandle counts a minute candle as accepted or rejected by the dedup gate.
func ObserveCandle(instrument string, accepted bool) {
	Init()
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	candles.WithLabelValues(instrument, result).Inc()
}

func ObserveAlert(instrument, signal string) {
	Init()
	alerts.WithLabelValues(instrument, signal).Inc()
}

// ObserveDelivery records one publish: delivered subscribers and those dropped.
func ObserveDelivery(instrument string, delivered, failed int) {
	Init()
	deliveries.WithLabelValues(instrument).Add(float64(delivered))
	deliveryFailures.WithLabelValues(instrument).Add(float64(failed))
}

func ObserveStoreError(instrument, op string) {
	Init()
	storeErrors.WithLabelValues(instrument, op).Inc()
}

func ObserveReconnect(instrument string) {
	Init()
	reconnects.WithLabelValues(instrument).Inc()
}

func SetSubscribers(instrument string, n int) {
	Init()
	subscribers.WithLabelValues(instrument).Set(float64(n))
}

func SetSupervisorState(instrument string, state int) {
	Init()
	supervisorState.WithLabelValues(instrument).Set(float64(state))
}
