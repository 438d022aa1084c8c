package pressure

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusModerate Status = "moderate"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

type OverallStatus struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
}

// StatusFor is the four-band badge for the overall score. It is distinct
// from the alert thresholds.
func StatusFor(overall int) OverallStatus {
	switch {
	case overall > 85:
		return OverallStatus{StatusCritical, "Critical Pressure"}
	case overall > 70:
		return OverallStatus{StatusWarning, "High Pressure"}
	case overall > 50:
		return OverallStatus{StatusModerate, "Moderate Load"}
	default:
		return OverallStatus{StatusHealthy, "Optimal Performance"}
	}
}

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

type PerformanceMetric struct {
	Name      string  `json:"name"`
	Field     Field   `json:"field"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit"`
	Trend     Trend   `json:"trend"`
	Status    Status  `json:"status"`
}

func tier(v, critical, warning float64) Status {
	switch {
	case critical > 0 && v > critical:
		return StatusCritical
	case v > warning:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func trendAbove(v, up float64, otherwise Trend) Trend {
	if v > up {
		return TrendUp
	}
	return otherwise
}

// PerformanceMetrics is the per-gauge table. Fields the source did not
// report are left out.
func PerformanceMetrics(m Metrics) []PerformanceMetric {
	var out []PerformanceMetric
	add := func(pm PerformanceMetric) {
		if m.Has(pm.Field) {
			out = append(out, pm)
		}
	}

	apiTrend := TrendStable
	switch {
	case m.APIUsage > 70:
		apiTrend = TrendUp
	case m.APIUsage < 30:
		apiTrend = TrendDown
	}

	add(PerformanceMetric{
		Name: "API Usage", Field: FieldAPIUsage, Value: m.APIUsage, Threshold: 80, Unit: "%",
		Trend: apiTrend, Status: tier(m.APIUsage, 85, 70),
	})
	add(PerformanceMetric{
		Name: "Database Load", Field: FieldDatabaseConnections, Value: m.DatabaseConnections, Threshold: 75, Unit: "%",
		Trend: trendAbove(m.DatabaseConnections, 60, TrendStable), Status: tier(m.DatabaseConnections, 80, 60),
	})
	add(PerformanceMetric{
		Name: "Active Users", Field: FieldConcurrentUsers, Value: m.ConcurrentUsers, Threshold: 90, Unit: "%",
		Trend: TrendUp, Status: tier(m.ConcurrentUsers, 0, 85),
	})
	add(PerformanceMetric{
		Name: "Memory Usage", Field: FieldMemoryUsage, Value: m.MemoryUsage, Threshold: 85, Unit: "%",
		Trend: trendAbove(m.MemoryUsage, 75, TrendStable), Status: tier(m.MemoryUsage, 90, 75),
	})
	add(PerformanceMetric{
		Name: "CPU Usage", Field: FieldCPUUsage, Value: m.CPUUsage, Threshold: 80, Unit: "%",
		Trend: trendAbove(m.CPUUsage, 65, TrendStable), Status: tier(m.CPUUsage, 85, 65),
	})
	add(PerformanceMetric{
		Name: "Network Latency", Field: FieldNetworkLatency, Value: m.NetworkLatency, Threshold: 70, Unit: "ms",
		Trend: trendAbove(m.NetworkLatency, 40, TrendDown), Status: tier(m.NetworkLatency, 0, 60),
	})
	return out
}

// Recommendations returns operator advice for the snapshot.
func Recommendations(m Metrics) []string {
	var recs []string
	if m.Overall > 80 {
		recs = append(recs, "System pressure is critical. Consider adding more server instances or upgrading hardware.")
	}
	if m.Has(FieldAPIUsage) && m.APIUsage > 75 {
		recs = append(recs, "API usage is high. Consider implementing stricter rate limiting for free users.")
	}
	if m.Has(FieldQueueDepth) && m.QueueDepth > 50 {
		recs = append(recs, "Processing queue is building up. Consider adding more background workers.")
	}
	if m.Overall < 40 {
		recs = append(recs, "All systems are performing well. Consider this a good time for maintenance or feature deployment.")
	}
	return recs
}
