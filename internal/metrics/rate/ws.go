package rate

import (
	"sync"
	"time"

	"cvdflow/logger"
)

// WSWeightTracker tracks outgoing websocket messages and connection attempts
// for the market data feed. Upstox caps connections per token, so our own
// reconnect cadence is worth watching.
type WSWeightTracker struct {
	mu       sync.Mutex
	now      func() time.Time
	window   time.Time
	msgs     int
	attempts int
}

// NewWSWeightTracker creates a new tracker.
func NewWSWeightTracker() *WSWeightTracker {
	return &WSWeightTracker{now: time.Now, window: time.Now()}
}

// RegisterOutgoing records n outgoing client messages (subs/pings).
func (t *WSWeightTracker) RegisterOutgoing(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if now.Sub(t.window) >= time.Second {
		t.msgs = 0
		t.window = now
	}
	t.msgs += n
}

// RegisterConnectionAttempt records a websocket handshake attempt.
func (t *WSWeightTracker) RegisterConnectionAttempt() {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
}

// Stats returns the message count within the current one second window and
// the total connection attempts.
func (t *WSWeightTracker) Stats() (msgs int, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgs, t.attempts
}

// ReportWSWeight emits websocket related weight metrics.
func ReportWSWeight(log *logger.Log, t *WSWeightTracker, instrument string) {
	msgs, attempts := t.Stats()
	l := log.WithComponent("upstox_feed")
	fields := logger.Fields{"instrument": instrument}
	l.LogMetric("upstox_feed", "outgoing_messages", int64(msgs), "gauge", fields)
	l.LogMetric("upstox_feed", "connection_attempts", int64(attempts), "counter", fields)
}
