package broadcast

import (
	"context"
	"fmt"
	"sync"

	"cvdflow/internal/metrics"
	"cvdflow/logger"
)

// Subscriber is a downstream consumer of one instrument's payloads. Send must
// not block; a subscriber that cannot take a payload returns an error and is
// dropped.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

// DeliveryError reports a payload that could not be handed to a subscriber.
type DeliveryError struct {
	Instrument   string
	SubscriberID string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to subscriber %s: %v", e.Instrument, e.SubscriberID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
}

// Broadcaster fans payloads out to the subscribers of one instrument.
type Broadcaster struct {
	instrument string

	mu   sync.RWMutex
	subs map[string]Subscriber

	stats      Stats
	statsMutex sync.Mutex
	log        *logger.Log
}

func New(instrument string) *Broadcaster {
	return &Broadcaster{
		instrument: instrument,
		subs:       make(map[string]Subscriber),
		log:        logger.GetLogger(),
	}
}

func (b *Broadcaster) Instrument() string { return b.instrument }

// Register adds sub. It returns false when a subscriber with the same ID is
// already registered.
func (b *Broadcaster) Register(sub Subscriber) bool {
	b.mu.Lock()
	if _, exists := b.subs[sub.ID()]; exists {
		b.mu.Unlock()
		return false
	}
	b.subs[sub.ID()] = sub
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetSubscribers(b.instrument, n)
	b.log.WithComponent("broadcast").WithInstrument(b.instrument).WithFields(logger.Fields{
		"subscriber":  sub.ID(),
		"subscribers": n,
	}).Info("subscriber registered")
	return true
}

// Unregister removes sub and reports whether it was registered.
func (b *Broadcaster) Unregister(sub Subscriber) bool {
	return b.remove(sub.ID())
}

func (b *Broadcaster) remove(id string) bool {
	b.mu.Lock()
	if _, exists := b.subs[id]; !exists {
		b.mu.Unlock()
		return false
	}
	delete(b.subs, id)
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetSubscribers(b.instrument, n)
	b.log.WithComponent("broadcast").WithInstrument(b.instrument).WithFields(logger.Fields{
		"subscriber":  id,
		"subscribers": n,
	}).Info("subscriber unregistered")
	return true
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish hands payload to every subscriber registered when the call starts
// and returns how many accepted it. Subscribers that fail are unregistered;
// their errors never reach the caller.
func (b *Broadcaster) Publish(ctx context.Context, payload []byte) int {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	delivered, failed := 0, 0
	for _, sub := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := sub.Send(payload); err != nil {
			failed++
			b.drop(sub, err)
			continue
		}
		delivered++
	}

	b.statsMutex.Lock()
	b.stats.Published++
	b.stats.Delivered += int64(delivered)
	b.stats.Dropped += int64(failed)
	b.statsMutex.Unlock()

	metrics.ObserveDelivery(b.instrument, delivered, failed)
	logger.IncrementTickPublished(len(payload), delivered)
	return delivered
}

func (b *Broadcaster) drop(sub Subscriber, err error) {
	derr := &DeliveryError{Instrument: b.instrument, SubscriberID: sub.ID(), Err: err}
	b.log.WithComponent("broadcast").WithInstrument(b.instrument).WithError(derr).Warn("dropping subscriber")
	metrics.EmitDropMetric(b.log, metrics.DropMetricSubscriber, b.instrument, err.Error())
	b.remove(sub.ID())
}

func (b *Broadcaster) GetStats() Stats {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()
	return b.stats
}
