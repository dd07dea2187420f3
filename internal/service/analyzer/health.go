package analyzer

import (
	"context"
	"sort"
	"sync"
	"time"

	"printcalc/internal/domain"
	"printcalc/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// BackendStatus is the last probe result of one backend
type BackendStatus struct {
	Mode        domain.BackendMode `json:"mode"`
	Available   bool               `json:"available"`
	LastChecked time.Time          `json:"last_checked"`
	Latency     time.Duration      `json:"latency_ns"`
	Error       string             `json:"error,omitempty"`
}

// HealthMonitor probes backends on a timer. Its results are informational:
// the selector never skips a backend because of them.
type HealthMonitor struct {
	backends []Backend
	interval time.Duration
	logger   *logger.Logger

	mu       sync.RWMutex
	statuses map[domain.BackendMode]BackendStatus

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHealthMonitor creates a monitor for the given backends
func NewHealthMonitor(backends []Backend, interval time.Duration, log *logger.Logger) *HealthMonitor {
	if log == nil {
		log = logger.NewNop()
	}
	return &HealthMonitor{
		backends: backends,
		interval: interval,
		logger:   log,
		statuses: make(map[domain.BackendMode]BackendStatus, len(backends)),
	}
}

// Start probes every backend once, then keeps probing every interval until Stop
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return nil
	}

	m.CheckNow(ctx)

	if m.interval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.loop(loopCtx, m.done)
	}
	m.running = true

	m.logger.WithField("interval", m.interval.String()).Info("Analyzer health monitor started")
	return nil
}

// Stop ends the probe loop and waits for an in-flight probe round to finish
func (m *HealthMonitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	if m.cancel == nil {
		return nil
	}
	m.cancel()

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("Analyzer health monitor stopped")
	return nil
}

func (m *HealthMonitor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow probes all backends concurrently and records the results
func (m *HealthMonitor) CheckNow(ctx context.Context) {
	var g errgroup.Group
	for _, backend := range m.backends {
		g.Go(func() error {
			start := time.Now()
			err := backend.Probe(ctx)
			status := BackendStatus{
				Mode:        backend.Mode(),
				Available:   err == nil,
				LastChecked: time.Now(),
				Latency:     time.Since(start),
			}
			if err != nil {
				status.Error = err.Error()
			}
			m.record(status)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *HealthMonitor) record(status BackendStatus) {
	m.mu.Lock()
	previous, seen := m.statuses[status.Mode]
	m.statuses[status.Mode] = status
	m.mu.Unlock()

	if !seen || previous.Available != status.Available {
		log := m.logger.WithFields(map[string]interface{}{
			"mode":      status.Mode.String(),
			"available": status.Available,
		})
		if status.Available {
			log.Info("Analyzer backend is available")
		} else {
			log.WithField("error", status.Error).Warn("Analyzer backend is unavailable")
		}
	}
}

// IsAvailable reports the last probe result for a mode; false if never probed
func (m *HealthMonitor) IsAvailable(mode domain.BackendMode) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[mode].Available
}

// Snapshot returns the last status of every probed backend, ordered by mode
func (m *HealthMonitor) Snapshot() []BackendStatus {
	m.mu.RLock()
	out := make([]BackendStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out
}
