// Package connectivity tracks whether the remote store is reachable. It
// exposes a point-in-time check plus edge-triggered transition events, which
// the sync engine uses to decide between direct remote calls and queueing.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Checker is the point-in-time connectivity check consumed by the sync
// layers.
type Checker interface {
	Online() bool
}

// Prober performs one bounded reachability check. transaction.Store
// implementations satisfy it via their Ping method.
type Prober interface {
	Ping(ctx context.Context) error
}

// Event is one connectivity transition. Events fire only on state changes,
// never because polling re-observed the same state.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor probes the remote store on a fixed interval and publishes
// transitions. Probes run through a circuit breaker so a dead network is
// detected cheaply instead of hammering a timing-out endpoint.
type Monitor struct {
	prober   Prober
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	online bool
	subs   []chan Event
}

// NewMonitor creates a monitor that assumes offline until the first probe
// succeeds.
func NewMonitor(logger *slog.Logger, prober Prober, interval, timeout time.Duration) *Monitor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-store-probe",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     interval, // open -> half-open roughly once per probe cycle
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Monitor{
		prober:   prober,
		breaker:  breaker,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving connectivity transitions. Slow
// subscribers miss events rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Start probes immediately and then on every interval tick until the context
// is canceled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.Probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("connectivity monitor stopping")
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Probe runs one reachability check and records the resulting state.
func (m *Monitor) Probe(ctx context.Context) bool {
	_, err := m.breaker.Execute(func() (any, error) {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		return nil, m.prober.Ping(probeCtx)
	})

	online := err == nil
	m.setOnline(online)
	return online
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("connectivity changed", "online", online)
	ev := Event{Online: online, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Static is a fixed-state Checker for tests and for forcing offline mode.
type Static bool

// Online implements Checker.
func (s Static) Online() bool { return bool(s) }
