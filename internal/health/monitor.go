package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// Status is the last observed record store health.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor periodically pings the record store and caches the result so health
// probes never wait on a slow backend.
type Monitor struct {
	pinger    recordstore.Pinger
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	startOnce sync.Once

	mu   sync.RWMutex
	last Status
}

// NewMonitor constructs a monitor. A nil pinger always reports healthy.
func NewMonitor(pinger recordstore.Pinger, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		last:     Status{Healthy: pinger == nil},
	}
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil || m.pinger == nil {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// Status returns the most recent result.
func (m *Monitor) Status() Status {
	if m == nil {
		return Status{Healthy: true}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial sweep
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the store once and records the outcome.
func (m *Monitor) Check(ctx context.Context) Status {
	if m.pinger == nil {
		return m.Status()
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status := Status{Healthy: true, CheckedAt: time.Now().UTC()}
	if err := m.pinger.Ping(timeoutCtx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
	}

	m.mu.Lock()
	prev := m.last
	m.last = status
	m.mu.Unlock()

	if prev.Healthy != status.Healthy || prev.CheckedAt.IsZero() {
		if status.Healthy {
			m.logger.Info("record store healthy")
		} else {
			m.logger.Warn("record store unhealthy", slog.String("error", status.Error))
		}
	}
	return status
}
