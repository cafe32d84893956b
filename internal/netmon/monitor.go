// Package netmon tracks connectivity for the sync manager. It keeps the last
// known state, runs active probes on demand or on a timer, and notifies
// listeners once per real online/offline transition.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober actively checks whether the remote side is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Listener is called with the new state after a transition.
type Listener func(online bool)

// Monitor holds connectivity state. The zero state is offline until the
// first probe or report says otherwise.
type Monitor struct {
	prober Prober
	logger *slog.Logger

	mu        sync.Mutex
	online    bool
	listeners map[int]Listener
	nextID    int

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a monitor. prober may be nil, in which case state only
// changes through Report.
func New(prober Prober, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:    prober,
		logger:    logger.With("component", "netmon"),
		listeners: make(map[int]Listener),
		stopCh:    make(chan struct{}),
	}
}

// IsOnline returns the last known state without probing.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// CheckConnection probes now, records the result and returns it.
// Without a prober it returns the last known state.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	online := m.prober.Probe(ctx)
	m.Report(online)
	return online
}

// Report records a connectivity signal from outside, such as a broker
// connection event. Listeners fire only if the state actually changed.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "online", online)
	for _, l := range listeners {
		m.notify(l, online)
	}
}

// AddListener registers fn for transitions and returns its unsubscribe func.
func (m *Monitor) AddListener(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start probes once and then every interval until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.CheckConnection(ctx)
	if m.prober == nil || interval <= 0 {
		return
	}

	m.wg.Add(1)
	go m.pollLoop(ctx, interval)
	m.logger.Info("network monitor started", "interval", interval)
}

// Stop ends the poll loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Monitor) pollLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckConnection(ctx)
		}
	}
}

func (m *Monitor) notify(l Listener, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked", "panic", r)
		}
	}()
	l(online)
}
