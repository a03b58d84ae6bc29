package metrics

import (
	"sync"
	"time"

	"cvdflow/logger"
)

// Metric is one emitted measurement. Instrument is lifted out of Fields when
// the emitter tagged one, so per-instrument views need no type assertions.
type Metric struct {
	Timestamp  time.Time
	Component  string
	Name       string
	Instrument string
	Value      interface{}
	Type       string
	Fields     logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID identifies a registration; zero is never issued.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	next     MetricHandlerID
}

var handlers = &handlerRegistry{handlers: make(map[MetricHandlerID]MetricHandler)}

func (r *handlerRegistry) add(h MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[r.next] = h
	return r.next
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// snapshot copies the handler set so delivery runs without the lock held.
func (r *handlerRegistry) snapshot() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.handlers) == 0 {
		return nil
	}
	out := make([]MetricHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// RegisterMetricHandler subscribes handler to every emitted metric. A nil
// handler is ignored and yields 0.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return handlers.add(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlers.remove(id)
}

func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	metric := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    logger.Fields{},
	}
	for k, v := range fields {
		metric.Fields[k] = v
	}
	if instrument, ok := metric.Fields["instrument"].(string); ok {
		metric.Instrument = instrument
	}

	entry := log.WithComponent(component).WithFields(metric.Fields).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	})
	// Per-candle metrics would flood info logs; handlers still see every one.
	entry.Debug("metric")

	for _, h := range handlers.snapshot() {
		h(metric)
	}
	return metric, true
}
