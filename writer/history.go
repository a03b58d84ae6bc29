package writer

import (
	"context"
	"fmt"
	"time"

	"cvdflow/models"
)

// DefaultHistoryTTL is the rolling lifetime of every history collection.
const DefaultHistoryTTL = 24 * time.Hour

// HistoryStore is the bounded recent-history cache shared by all stream
// supervisors.
//
// AppendIfNew stores the price and volume entries for ts only when ts has not
// been stored for the instrument yet and reports whether it did. A non-nil
// alert is added to the instrument's alert set regardless of the timestamp
// gate; identical alert payloads are kept once.
type HistoryStore interface {
	AppendIfNew(ctx context.Context, instrument string, ts int64, price, volume, alert []byte) (bool, error)
	Load(ctx context.Context, instrument string) (*models.History, error)
	Close() error
}

// StoreError wraps a failed cache operation. Callers log and count it; it
// never stops a stream.
type StoreError struct {
	Op         string
	Instrument string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Instrument, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AppendTick serialises an enriched tick and appends it to the store.
func AppendTick(ctx context.Context, store HistoryStore, tick *models.EnrichedTick) (bool, error) {
	price, err := tick.PricePayload()
	if err != nil {
		return false, &StoreError{Op: "encode", Instrument: tick.Instrument, Err: err}
	}
	volume, err := tick.VolumePayload()
	if err != nil {
		return false, &StoreError{Op: "encode", Instrument: tick.Instrument, Err: err}
	}
	alert, err := tick.AlertPayload()
	if err != nil {
		return false, &StoreError{Op: "encode", Instrument: tick.Instrument, Err: err}
	}
	return store.AppendIfNew(ctx, tick.Instrument, tick.Time, price, volume, alert)
}
