package processor

import "cvdflow/models"

// Enricher turns accepted candles of one instrument into EnrichedTicks. The
// dedup gate lives as long as the Enricher; the CVD state and signal context
// belong to a single upstream session. Use from one goroutine only.
type Enricher struct {
	instrument string
	gate       DedupGate
	cvd        CvdState
	signals    SignalContext
}

func NewEnricher(instrument string) *Enricher {
	return &Enricher{instrument: instrument}
}

// Enrich runs a candle through dedup, CVD and signal detection. It returns
// false, leaving all state untouched, when the candle is not newer than the
// last accepted one.
func (e *Enricher) Enrich(c models.Candle, volume float64) (*models.EnrichedTick, bool) {
	if !e.gate.Accept(c.Timestamp) {
		return nil, false
	}

	cvd := e.cvd.Update(c.Open, c.Close, volume)
	sig := Classify(c.Open, c.Close, cvd.Open, cvd.Close, e.signals)
	e.signals.Advance(c.Close, cvd.Close)

	return &models.EnrichedTick{
		Instrument: e.instrument,
		Time:       c.Timestamp,
		Price:      c.OHLC(),
		Volume:     cvd,
		Alert:      AlertFor(sig, c.Timestamp),
	}, true
}

// ResetSession clears the CVD state and signal context at the start of an
// upstream session. The gate keeps its last accepted timestamp, so a replayed
// candle after a reconnect is still rejected.
func (e *Enricher) ResetSession() {
	e.cvd.Reset()
	e.signals.Reset()
}

// Reset clears all state, including the dedup gate.
func (e *Enricher) Reset() {
	e.gate.Reset()
	e.cvd.Reset()
	e.signals.Reset()
}

// State returns copies of the current CVD state and signal context.
func (e *Enricher) State() (CvdState, SignalContext) {
	return e.cvd, e.signals
}

// LastTimestamp returns the last accepted candle timestamp.
func (e *Enricher) LastTimestamp() (int64, bool) {
	return e.gate.Last()
}

func (e *Enricher) Instrument() string { return e.instrument }
