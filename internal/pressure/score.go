// Package pressure scores operational load and derives the alerts and
// recommendations shown on the operations dashboard.
package pressure

import (
	"math"
	"time"
)

type Field string

const (
	FieldAPIUsage            Field = "apiUsage"
	FieldDatabaseConnections Field = "databaseConnections"
	FieldConcurrentUsers     Field = "concurrentUsers"
	FieldMemoryUsage         Field = "memoryUsage"
	FieldCPUUsage            Field = "cpuUsage"
	FieldNetworkLatency      Field = "networkLatency"
	FieldErrorRate           Field = "errorRate"
	FieldQueueDepth          Field = "queueDepth"
)

type weight struct {
	field Field
	w     float64
}

// Iteration order is fixed so that float accumulation is reproducible.
var weights = []weight{
	{FieldAPIUsage, 0.25},
	{FieldDatabaseConnections, 0.20},
	{FieldConcurrentUsers, 0.15},
	{FieldMemoryUsage, 0.15},
	{FieldCPUUsage, 0.10},
	{FieldNetworkLatency, 0.10},
	{FieldErrorRate, 0.05},
}

// Sample holds the fields a source could read. Absent keys are unknown,
// not zero.
type Sample map[Field]float64

// Score is the weighted mean of the present fields, rounded half away from
// zero. Missing fields drop out of both sides of the division; an empty
// sample scores 0.
func Score(s Sample) int {
	var sum, total float64
	for _, w := range weights {
		v, ok := s[w.field]
		if !ok {
			continue
		}
		sum += v * w.w
		total += w.w
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(sum / total))
}

// Metrics is one scored snapshot. Missing lists the fields the source could
// not read; their values are zero and carry no meaning.
type Metrics struct {
	APIUsage            float64   `json:"apiUsage"`
	DatabaseConnections float64   `json:"databaseConnections"`
	ConcurrentUsers     float64   `json:"concurrentUsers"`
	MemoryUsage         float64   `json:"memoryUsage"`
	CPUUsage            float64   `json:"cpuUsage"`
	NetworkLatency      float64   `json:"networkLatency"`
	ErrorRate           float64   `json:"errorRate"`
	QueueDepth          int       `json:"queueDepth"`
	Overall             int       `json:"overall"`
	Timestamp           time.Time `json:"timestamp"`
	Missing             []Field   `json:"missing,omitempty"`
}

var allFields = []Field{
	FieldAPIUsage, FieldDatabaseConnections, FieldConcurrentUsers, FieldMemoryUsage,
	FieldCPUUsage, FieldNetworkLatency, FieldErrorRate, FieldQueueDepth,
}

// NewMetrics builds the snapshot and derives Overall from s.
func NewMetrics(s Sample, at time.Time) Metrics {
	m := Metrics{
		APIUsage:            s[FieldAPIUsage],
		DatabaseConnections: s[FieldDatabaseConnections],
		ConcurrentUsers:     s[FieldConcurrentUsers],
		MemoryUsage:         s[FieldMemoryUsage],
		CPUUsage:            s[FieldCPUUsage],
		NetworkLatency:      s[FieldNetworkLatency],
		ErrorRate:           s[FieldErrorRate],
		QueueDepth:          int(s[FieldQueueDepth]),
		Overall:             Score(s),
		Timestamp:           at.UTC(),
	}
	for _, f := range allFields {
		if _, ok := s[f]; !ok {
			m.Missing = append(m.Missing, f)
		}
	}
	return m
}

func (m Metrics) Has(f Field) bool {
	for _, missing := range m.Missing {
		if missing == f {
			return false
		}
	}
	return true
}

// Sample returns the present fields.
func (m Metrics) Sample() Sample {
	all := Sample{
		FieldAPIUsage:            m.APIUsage,
		FieldDatabaseConnections: m.DatabaseConnections,
		FieldConcurrentUsers:     m.ConcurrentUsers,
		FieldMemoryUsage:         m.MemoryUsage,
		FieldCPUUsage:            m.CPUUsage,
		FieldNetworkLatency:      m.NetworkLatency,
		FieldErrorRate:           m.ErrorRate,
		FieldQueueDepth:          float64(m.QueueDepth),
	}
	for _, f := range m.Missing {
		delete(all, f)
	}
	return all
}
