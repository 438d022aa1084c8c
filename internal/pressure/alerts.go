package pressure

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertInfo     AlertType = "info"
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
)

type Alert struct {
	ID           string    `json:"id"`
	Type         AlertType `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

func newAlert(prefix string, typ AlertType, title, msg string, at time.Time) Alert {
	return Alert{
		ID:        prefix + "-" + uuid.NewString(),
		Type:      typ,
		Title:     title,
		Message:   msg,
		Timestamp: at.UTC(),
	}
}

// GenerateAlerts applies the alert thresholds to m. These are independent
// of the status badge bands.
func GenerateAlerts(m Metrics, at time.Time) []Alert {
	var alerts []Alert

	if m.Overall > 90 {
		alerts = append(alerts, newAlert("critical", AlertCritical, "Critical System Pressure",
			fmt.Sprintf("Overall system pressure at %d%%. Immediate attention required.", m.Overall), at))
	}
	if m.Has(FieldAPIUsage) && m.APIUsage > 85 {
		alerts = append(alerts, newAlert("api", AlertWarning, "High API Usage",
			fmt.Sprintf("API usage at %.1f%%. Consider rate limiting.", m.APIUsage), at))
	}
	if m.Has(FieldMemoryUsage) && m.MemoryUsage > 90 {
		alerts = append(alerts, newAlert("memory", AlertCritical, "Memory Pressure Critical",
			fmt.Sprintf("Memory usage at %.1f%%. Scaling recommended.", m.MemoryUsage), at))
	}
	if m.Has(FieldErrorRate) && m.ErrorRate > 2 {
		alerts = append(alerts, newAlert("error", AlertWarning, "Elevated Error Rate",
			fmt.Sprintf("Error rate at %.1f%%. Investigating issues.", m.ErrorRate), at))
	}
	if m.Has(FieldQueueDepth) && m.QueueDepth > 100 {
		alerts = append(alerts, newAlert("queue", AlertWarning, "Queue Backlog",
			fmt.Sprintf("%d items in processing queue. Consider scaling workers.", m.QueueDepth), at))
	}
	return alerts
}

const maxAlerts = 10

// AlertLog keeps the most recent alerts, newest first.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []Alert
}

func (l *AlertLog) Add(alerts ...Alert) {
	if len(alerts) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make([]Alert, 0, len(alerts)+len(l.alerts))
	merged = append(merged, alerts...)
	merged = append(merged, l.alerts...)
	if len(merged) > maxAlerts {
		merged = merged[:maxAlerts]
	}
	l.alerts = merged
}

// Acknowledge marks the alert and reports whether it was found.
func (l *AlertLog) Acknowledge(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.alerts {
		if l.alerts[i].ID == id {
			l.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

func (l *AlertLog) All() []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Alert{}, l.alerts...)
}

func (l *AlertLog) Active() []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Alert{}
	for _, a := range l.alerts {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}
