package writer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"cvdflow/models"
)

// expiry tracks the lazily established TTL of one collection. A zero deadline
// means the collection currently has no expiry.
type expiry struct {
	deadline time.Time
}

func (e *expiry) touch(now time.Time, ttl time.Duration) {
	if e.deadline.IsZero() && ttl > 0 {
		e.deadline = now.Add(ttl)
	}
}

func (e *expiry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

type timedPayload struct {
	ts      int64
	payload []byte
}

type memoryHistory struct {
	timestamps map[int64]struct{}
	tsExpiry   expiry

	prices      []timedPayload
	priceExpiry expiry

	volumes      []timedPayload
	volumeExpiry expiry

	alerts      map[string]struct{}
	alertOrder  []string
	alertExpiry expiry
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{
		timestamps: make(map[int64]struct{}),
		alerts:     make(map[string]struct{}),
	}
}

func (h *memoryHistory) evict(now time.Time) {
	if h.tsExpiry.expired(now) {
		h.timestamps = make(map[int64]struct{})
		h.tsExpiry = expiry{}
	}
	if h.priceExpiry.expired(now) {
		h.prices = nil
		h.priceExpiry = expiry{}
	}
	if h.volumeExpiry.expired(now) {
		h.volumes = nil
		h.volumeExpiry = expiry{}
	}
	if h.alertExpiry.expired(now) {
		h.alerts = make(map[string]struct{})
		h.alertOrder = nil
		h.alertExpiry = expiry{}
	}
}

// MemoryStore is an in-process HistoryStore guarded by a single mutex.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]*memoryHistory
}

// NewMemoryStore creates a memory store. A non-positive ttl falls back to
// DefaultHistoryTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]*memoryHistory),
	}
}

// WithClock replaces the time source. Used by tests to move past the TTL.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryStore) AppendIfNew(ctx context.Context, instrument string, ts int64, price, volume, alert []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &StoreError{Op: "append", Instrument: instrument, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	h, ok := m.items[instrument]
	if !ok {
		h = newMemoryHistory()
		m.items[instrument] = h
	}
	h.evict(now)

	added := false
	if _, exists := h.timestamps[ts]; !exists {
		h.timestamps[ts] = struct{}{}
		h.tsExpiry.touch(now, m.ttl)

		h.prices = append(h.prices, timedPayload{ts: ts, payload: cloneBytes(price)})
		h.priceExpiry.touch(now, m.ttl)

		h.volumes = append(h.volumes, timedPayload{ts: ts, payload: cloneBytes(volume)})
		h.volumeExpiry.touch(now, m.ttl)
		added = true
	}

	if alert != nil {
		key := string(alert)
		if _, exists := h.alerts[key]; !exists {
			h.alerts[key] = struct{}{}
			h.alertOrder = append(h.alertOrder, key)
		}
		h.alertExpiry.touch(now, m.ttl)
	}

	return added, nil
}

func (m *MemoryStore) Load(ctx context.Context, instrument string) (*models.History, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: "load", Instrument: instrument, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := &models.History{Instrument: instrument, Points: []models.HistoryPoint{}, Alerts: []json.RawMessage{}}
	h, ok := m.items[instrument]
	if !ok {
		return out, nil
	}
	h.evict(m.now())

	stamps := make([]int64, 0, len(h.timestamps))
	for ts := range h.timestamps {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	out.Points = zipPoints(stamps, indexPayloads(h.prices), indexPayloads(h.volumes))
	for _, a := range h.alertOrder {
		out.Alerts = append(out.Alerts, json.RawMessage(a))
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func indexPayloads(entries []timedPayload) map[int64][]byte {
	out := make(map[int64][]byte, len(entries))
	for _, e := range entries {
		out[e.ts] = e.payload
	}
	return out
}

// zipPoints pairs each timestamp with its price and volume payloads. A
// timestamp whose entries have already expired is dropped.
func zipPoints(stamps []int64, prices, volumes map[int64][]byte) []models.HistoryPoint {
	points := make([]models.HistoryPoint, 0, len(stamps))
	for _, ts := range stamps {
		price, okPrice := prices[ts]
		volume, okVolume := volumes[ts]
		if !okPrice || !okVolume {
			continue
		}
		points = append(points, models.HistoryPoint{
			Time:   ts,
			Price:  json.RawMessage(price),
			Volume: json.RawMessage(volume),
		})
	}
	return points
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
