package coordination

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/runtime"
)

// RuntimeHealthMonitor periodically calls runtime.Observe() on its own
// schedule (independent of the Observer coordinator's tick) and flags the
// Runtime Port itself as degraded once observe has failed or timed out N
// times in a row. The Observer still skips a tick on a single timeout;
// this gives that silent skip a visible, counted signal instead.
type RuntimeHealthMonitor struct {
	port      runtime.Port
	interval  time.Duration
	timeout   time.Duration
	threshold int

	mu              sync.RWMutex
	consecutiveFail int
	degraded        bool
}

func NewRuntimeHealthMonitor(port runtime.Port, interval, timeout time.Duration, threshold int) *RuntimeHealthMonitor {
	return &RuntimeHealthMonitor{
		port:      port,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
	}
}

func (m *RuntimeHealthMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *RuntimeHealthMonitor) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

func (m *RuntimeHealthMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("coordination: starting runtime health monitor (interval=%v, timeout=%v, threshold=%d)", m.interval, m.timeout, m.threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkOnce(ctx)
		}
	}
}

func (m *RuntimeHealthMonitor) checkOnce(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.port.Observe(qctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.consecutiveFail++
		log.Printf("coordination: runtime observe failed (%d/%d consecutive): %v", m.consecutiveFail, m.threshold, err)
		if m.consecutiveFail >= m.threshold && !m.degraded {
			m.degraded = true
			observability.RuntimeMode.WithLabelValues("degraded").Set(1)
			log.Printf("coordination: runtime port marked DEGRADED after %d consecutive observe failures", m.consecutiveFail)
		}
		return
	}

	if m.degraded {
		log.Printf("coordination: runtime port recovered after %d consecutive failures", m.consecutiveFail)
		observability.RuntimeMode.WithLabelValues("degraded").Set(0)
	}
	m.consecutiveFail = 0
	m.degraded = false
}
