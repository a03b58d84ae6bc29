package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cvdflow/internal/broadcast"
	"cvdflow/internal/symbols"
	"cvdflow/logger"
	"cvdflow/writer"
)

var ErrNotRunning = errors.New("stream manager not running")

type ManagerConfig struct {
	Supervisor Config
	// StopWhenIdle stops an on-demand stream when its last subscriber leaves.
	StopWhenIdle bool
}

type instrumentStream struct {
	supervisor  *Supervisor
	broadcaster *broadcast.Broadcaster
	cancel      context.CancelFunc
	done        chan struct{}
	alwaysOn    bool
}

// Manager owns one Supervisor and Broadcaster per streamed instrument.
// Configured instruments run for the manager's lifetime; others start with
// their first subscriber.
type Manager struct {
	dialer Dialer
	store  writer.HistoryStore
	cfg    ManagerConfig
	log    *logger.Log

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	streams map[string]*instrumentStream
	wg      sync.WaitGroup
}

func NewManager(dialer Dialer, store writer.HistoryStore, cfg ManagerConfig) *Manager {
	return &Manager{
		dialer:  dialer,
		store:   store,
		cfg:     cfg,
		log:     logger.GetLogger(),
		streams: make(map[string]*instrumentStream),
	}
}

// Start launches the always-on instruments.
func (m *Manager) Start(ctx context.Context, instruments []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("stream manager already running")
	}
	for _, instrument := range instruments {
		if err := symbols.Validate(instrument); err != nil {
			return err
		}
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	for _, instrument := range instruments {
		m.startLocked(instrument, true)
	}
	m.log.WithComponent("stream_manager").WithFields(logger.Fields{"instruments": instruments}).Info("stream manager started")
	return nil
}

// Stop cancels every supervisor and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.streams = make(map[string]*instrumentStream)
	m.mu.Unlock()

	m.log.WithComponent("stream_manager").Info("stopping stream manager")
	m.wg.Wait()
	m.log.WithComponent("stream_manager").Info("stream manager stopped")
}

func (m *Manager) startLocked(instrument string, alwaysOn bool) *instrumentStream {
	if st, ok := m.streams[instrument]; ok {
		st.alwaysOn = st.alwaysOn || alwaysOn
		return st
	}

	ctx, cancel := context.WithCancel(m.ctx)
	b := broadcast.New(instrument)
	st := &instrumentStream{
		supervisor:  NewSupervisor(instrument, m.dialer, m.store, b, m.cfg.Supervisor),
		broadcaster: b,
		cancel:      cancel,
		done:        make(chan struct{}),
		alwaysOn:    alwaysOn,
	}
	m.streams[instrument] = st

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(st.done)
		st.supervisor.Run(ctx)
	}()
	return st
}

// Attach registers sub for instrument, starting its stream when needed.
func (m *Manager) Attach(instrument string, sub broadcast.Subscriber) error {
	instrument = symbols.Normalize(instrument)
	if err := symbols.Validate(instrument); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	st := m.startLocked(instrument, false)
	if !st.broadcaster.Register(sub) {
		return fmt.Errorf("subscriber %s already attached to %s", sub.ID(), instrument)
	}
	return nil
}

// Detach unregisters sub. An on-demand stream left without subscribers is
// stopped when StopWhenIdle is set.
func (m *Manager) Detach(instrument string, sub broadcast.Subscriber) {
	instrument = symbols.Normalize(instrument)

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[instrument]
	if !ok {
		return
	}
	st.broadcaster.Unregister(sub)
	if st.alwaysOn || !m.cfg.StopWhenIdle || st.broadcaster.Len() > 0 {
		return
	}

	st.cancel()
	delete(m.streams, instrument)
	m.log.WithComponent("stream_manager").WithInstrument(instrument).Info("last subscriber left; stream stopped")
}

// State returns the supervisor state of instrument.
func (m *Manager) State(instrument string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[symbols.Normalize(instrument)]
	if !ok {
		return StateIdle, false
	}
	return st.supervisor.State(), true
}

// Subscribers returns the subscriber count of instrument.
func (m *Manager) Subscribers(instrument string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[symbols.Normalize(instrument)]
	if !ok {
		return 0
	}
	return st.broadcaster.Len()
}

// Instruments lists the instruments with an active stream, sorted.
func (m *Manager) Instruments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.streams))
	for instrument := range m.streams {
		out = append(out, instrument)
	}
	sort.Strings(out)
	return out
}

// Store returns the history store shared by all supervisors.
func (m *Manager) Store() writer.HistoryStore { return m.store }
