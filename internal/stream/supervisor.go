package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cvdflow/internal/broadcast"
	"cvdflow/internal/metrics"
	"cvdflow/logger"
	"cvdflow/models"
	"cvdflow/processor"
	"cvdflow/reader/upstox"
	"cvdflow/writer"
)

// State is the lifecycle phase of a Supervisor.
type State int32

const (
	StateIdle State = iota
	StateAuthorizing
	StateConnected
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one upstream connection.
type Session interface {
	Subscribe(ctx context.Context, instrumentKeys []string) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer authorizes and opens upstream sessions.
type Dialer interface {
	Connect(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Connect(ctx context.Context) (Session, error) { return f(ctx) }

// Config tunes reconnects and decode failure tolerance.
type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxDecodeErrors recycles the session after this many consecutive
	// undecodable frames. Zero never does.
	MaxDecodeErrors int
}

// Supervisor keeps one instrument streaming: it owns the upstream session,
// turns frames into enriched ticks, records them and fans them out.
type Supervisor struct {
	instrument  string
	dialer      Dialer
	store       writer.HistoryStore
	broadcaster *broadcast.Broadcaster
	enricher    *processor.Enricher
	cfg         Config
	log         *logger.Log

	state atomic.Int32

	decode  func([]byte) (*models.FeedResponse, error)
	onState func(State)
}

func NewSupervisor(instrument string, dialer Dialer, store writer.HistoryStore, b *broadcast.Broadcaster, cfg Config) *Supervisor {
	return &Supervisor{
		instrument:  instrument,
		dialer:      dialer,
		store:       store,
		broadcaster: b,
		enricher:    processor.NewEnricher(instrument),
		cfg:         cfg,
		log:         logger.GetLogger(),
		decode:      processor.Decode,
	}
}

func (s *Supervisor) Instrument() string { return s.instrument }

func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	metrics.SetSupervisorState(s.instrument, int(next))
	s.log.WithComponent("stream").WithInstrument(s.instrument).WithFields(logger.Fields{
		"from": prev.String(),
		"to":   next.String(),
	}).Debug("state transition")
	if s.onState != nil {
		s.onState(next)
	}
}

// Run streams until ctx is cancelled. Session failures never end Run; they
// lead to a reconnect after a backoff delay.
func (s *Supervisor) Run(ctx context.Context) {
	log := s.log.WithComponent("stream").WithInstrument(s.instrument)
	defer s.setState(StateClosed)

	bo := newBackoff(s.cfg.BaseDelay, s.cfg.MaxDelay)
	log.Info("stream supervisor started")
	for {
		if ctx.Err() != nil {
			log.Info("stream supervisor stopped")
			return
		}

		s.setState(StateAuthorizing)
		streamed, err := s.runSession(ctx)
		if ctx.Err() != nil {
			log.Info("stream supervisor stopped")
			return
		}
		if streamed {
			bo.Reset()
		}

		s.setState(StateReconnecting)
		metrics.ObserveReconnect(s.instrument)
		delay := bo.Next()
		log.WithError(err).WithFields(logger.Fields{
			"delay_ms": delay.Milliseconds(),
			"kind":     errorKind(err),
		}).Warn("upstream session ended; reconnecting")

		if waitForReconnect(ctx, delay) {
			log.Info("stream supervisor stopped")
			return
		}
	}
}

// runSession runs one upstream session and reports whether it reached
// Streaming along with the error that ended it.
func (s *Supervisor) runSession(ctx context.Context) (bool, error) {
	session, err := s.dialer.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer session.Close()

	s.setState(StateConnected)
	s.enricher.ResetSession()

	if err := session.Subscribe(ctx, []string{s.instrument}); err != nil {
		return false, err
	}
	s.setState(StateStreaming)

	failures := 0
	for {
		frame, err := session.Receive(ctx)
		if err != nil {
			return true, err
		}
		logger.IncrementFrameRead(len(frame))
		metrics.ObserveFrame(s.instrument)

		if err := s.handleFrame(ctx, frame); err != nil {
			failures++
			metrics.ObserveDecodeError(s.instrument)
			metrics.EmitDropMetric(s.log, metrics.DropMetricDecode, s.instrument, "")
			s.log.WithComponent("stream").WithInstrument(s.instrument).WithError(err).Debug("skipping undecodable frame")
			if s.cfg.MaxDecodeErrors > 0 && failures > s.cfg.MaxDecodeErrors {
				return true, fmt.Errorf("%d consecutive undecodable frames: %w", failures, err)
			}
			continue
		}
		failures = 0
	}
}

// handleFrame runs one frame through decode, enrichment, storage and
// publishing. Only decode failures are returned.
func (s *Supervisor) handleFrame(ctx context.Context, frame []byte) error {
	resp, err := s.decode(frame)
	if err != nil {
		return err
	}

	candle, volume, ok := resp.MinuteCandle(s.instrument)
	if !ok {
		return nil
	}

	tick, accepted := s.enricher.Enrich(candle, volume)
	metrics.ObserveCandle(s.instrument, accepted)
	if !accepted {
		last, _ := s.enricher.LastTimestamp()
		s.log.WithComponent("stream").WithInstrument(s.instrument).WithFields(logger.Fields{
			"time": candle.Timestamp,
			"last": last,
		}).Debug("candle not newer than last accepted; skipped")
		return nil
	}
	if tick.Alert != nil {
		metrics.ObserveAlert(s.instrument, string(tick.Alert.Signal))
		s.log.WithComponent("stream").WithInstrument(s.instrument).WithFields(logger.Fields{
			"signal": tick.Alert.Signal,
			"time":   tick.Time,
		}).Info(tick.Alert.Text)
	}

	s.persist(ctx, tick)
	s.publish(ctx, tick)
	return nil
}

func (s *Supervisor) persist(ctx context.Context, tick *models.EnrichedTick) {
	added, err := writer.AppendTick(ctx, s.store, tick)
	if err != nil {
		op := "append"
		var se *writer.StoreError
		if errors.As(err, &se) {
			op = se.Op
		}
		metrics.ObserveStoreError(s.instrument, op)
		s.log.WithComponent("history").WithInstrument(s.instrument).WithError(err).Warn("failed to store tick")
		return
	}
	if added {
		logger.IncrementCandleStored()
	}
}

func (s *Supervisor) publish(ctx context.Context, tick *models.EnrichedTick) {
	payload, err := tick.Payload()
	if err != nil {
		s.log.WithComponent("stream").WithInstrument(s.instrument).WithError(err).Error("failed to encode tick")
		return
	}
	delivered := s.broadcaster.Publish(ctx, payload)
	logger.LogDataFlowEntry(s.log.WithComponent("stream").WithInstrument(s.instrument), "upstox_feed", "subscribers", delivered, "enriched_tick")
}

func errorKind(err error) string {
	var (
		authErr   *upstox.AuthError
		connErr   *upstox.ConnectionError
		decodeErr *processor.DecodeError
	)
	switch {
	case err == nil:
		return "closed"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "other"
	}
}
