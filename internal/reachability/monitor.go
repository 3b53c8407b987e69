package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"datalayer/internal/domain"
	"datalayer/internal/repository"
)

// Target is what a Monitor probes and reports to. The relay broker
// satisfies it.
type Target interface {
	StaticPeers() []repository.Peer
	SetReachable(id domain.NodeID, up bool)
}

// Monitor probes static peers on a schedule
type Monitor struct {
	target   Target
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	last   []Result
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. A non-positive interval defaults to one
// minute.
func NewMonitor(target Target, prober Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		target:   target,
		prober:   prober,
		interval: interval,
		logger:   logger.With("component", "reachability", "prober", prober.Name()),
	}
}

// Start runs an initial probe and then polls until Stop or ctx is done
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if _, err := m.TriggerProbe(ctx); err != nil {
			m.logger.Warn("initial probe failed", "error", err)
		}

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Debug("stopping polling loop")
				return
			case <-ticker.C:
				if _, err := m.TriggerProbe(ctx); err != nil {
					m.logger.Warn("probe failed", "error", err)
				}
			}
		}
	}()

	m.logger.Info("started polling loop", "interval", m.interval)
}

// Stop ends the polling loop and waits for it
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// TriggerProbe probes every static peer now and reports the results
func (m *Monitor) TriggerProbe(ctx context.Context) ([]Result, error) {
	peers := m.target.StaticPeers()
	if len(peers) == 0 {
		return nil, nil
	}

	results, err := m.prober.Probe(ctx, peers)
	if err != nil {
		return nil, fmt.Errorf("%s probe: %w", m.prober.Name(), err)
	}

	up := 0
	for _, r := range results {
		m.target.SetReachable(r.Peer, r.Up)
		if r.Up {
			up++
		}
	}
	m.logger.Debug("probe complete", "peers", len(peers), "up", up)

	m.mu.Lock()
	m.last = results
	m.mu.Unlock()
	return results, nil
}

// LastResults returns the results of the most recent probe
func (m *Monitor) LastResults() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.last))
	copy(out, m.last)
	return out
}
