package pressure

import (
	"context"
	"sync"
	"time"

	"mailoreply.ai/platform/pkg/logger"
)

// Snapshot is everything the dashboard renders for one tick.
type Snapshot struct {
	Metrics         Metrics             `json:"metrics"`
	Status          OverallStatus       `json:"status"`
	Performance     []PerformanceMetric `json:"performance"`
	Alerts          []Alert             `json:"alerts"`
	Recommendations []string            `json:"recommendations"`
}

type Monitor struct {
	source   Source
	interval time.Duration
	alerts   *AlertLog
	logger   *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	current Metrics
	ready   bool
}

func NewMonitor(source Source, interval time.Duration, l *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Monitor{
		source:   source,
		interval: interval,
		alerts:   &AlertLog{},
		logger:   l.With("component", "pressure"),
		now:      time.Now,
	}
}

// Tick takes one reading, scores it and logs any alerts it raises.
func (m *Monitor) Tick(ctx context.Context) (Metrics, error) {
	sample, err := m.source.Read(ctx)
	if err != nil && len(sample) == 0 {
		return Metrics{}, err
	}
	if err != nil {
		m.logger.Warn("Partial pressure reading", "error", err)
	}

	now := m.now()
	metrics := NewMetrics(sample, now)
	alerts := GenerateAlerts(metrics, now)
	m.alerts.Add(alerts...)
	for _, a := range alerts {
		m.logger.Warn("Pressure alert", "alert_id", a.ID, "type", a.Type, "title", a.Title)
	}

	m.mu.Lock()
	m.current = metrics
	m.ready = true
	m.mu.Unlock()
	return metrics, nil
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if _, err := m.Tick(ctx); err != nil {
		m.logger.Error("Pressure reading failed", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Tick(ctx); err != nil {
				m.logger.Error("Pressure reading failed", "error", err)
			}
		}
	}
}

// Snapshot returns the latest tick, taking one first if none has run.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	metrics, ready := m.current, m.ready
	m.mu.RUnlock()

	if !ready {
		var err error
		if metrics, err = m.Tick(ctx); err != nil {
			return Snapshot{}, err
		}
	}

	return Snapshot{
		Metrics:         metrics,
		Status:          StatusFor(metrics.Overall),
		Performance:     PerformanceMetrics(metrics),
		Alerts:          m.alerts.All(),
		Recommendations: Recommendations(metrics),
	}, nil
}

func (m *Monitor) Alerts() []Alert {
	return m.alerts.All()
}

func (m *Monitor) Acknowledge(id string) bool {
	return m.alerts.Acknowledge(id)
}
