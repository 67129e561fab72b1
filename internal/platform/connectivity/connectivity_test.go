package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (f *fakeProber) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeProber) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestMonitor(p Prober) *Monitor {
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	return NewMonitor(logger, p, time.Minute, time.Second)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestMonitor_StartsOffline(t *testing.T) {
	m := newTestMonitor(&fakeProber{err: errors.New("unreachable")})
	assert.False(t, m.Online())
}

func TestMonitor_ProbeTransitions(t *testing.T) {
	prober := &fakeProber{}
	m := newTestMonitor(prober)

	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Online())

	prober.setErr(errors.New("unreachable"))
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestMonitor_EventsAreEdgeTriggered(t *testing.T) {
	prober := &fakeProber{}
	m := newTestMonitor(prober)
	events := m.Subscribe()

	m.Probe(context.Background()) // offline -> online
	m.Probe(context.Background()) // online, no change
	m.Probe(context.Background()) // online, no change

	prober.setErr(errors.New("unreachable"))
	m.Probe(context.Background()) // online -> offline

	select {
	case ev := <-events:
		assert.True(t, ev.Online)
	default:
		t.Fatal("expected online event")
	}
	select {
	case ev := <-events:
		assert.False(t, ev.Online)
	default:
		t.Fatal("expected offline event")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestMonitor_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	prober := &fakeProber{err: errors.New("unreachable")}
	m := newTestMonitor(prober)

	for i := 0; i < 3; i++ {
		m.Probe(context.Background())
	}

	// Breaker is now open: the probe fails fast without hitting the prober.
	prober.setErr(nil)
	require.False(t, m.Probe(context.Background()))
}

func TestStatic(t *testing.T) {
	assert.True(t, Static(true).Online())
	assert.False(t, Static(false).Online())
}
