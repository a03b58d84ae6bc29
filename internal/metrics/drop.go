package metrics

import "cvdflow/logger"

// DropMetric identifies the metric name emitted when a payload is not delivered.
type DropMetric string

const (
	// DropMetricSubscriber records a subscriber removed after a failed send.
	DropMetricSubscriber DropMetric = "subscriber_dropped"
	// DropMetricBufferFull records a payload refused by a full outbound buffer.
	DropMetricBufferFull DropMetric = "subscriber_buffer_full"
	// DropMetricDecode records an upstream frame skipped after a decode failure.
	DropMetricDecode DropMetric = "frame_dropped"
)

// EmitDropMetric logs and emits a drop counter of one. Instrument and reason
// are attached when set so drops can be aggregated per instrument.
func EmitDropMetric(log *logger.Log, metric DropMetric, instrument, reason string) {
	fields := logger.Fields{}
	if instrument != "" {
		fields["instrument"] = instrument
	}
	if reason != "" {
		fields["reason"] = reason
	}

	EmitMetric(log, "drops", string(metric), 1, "counter", fields)
}
