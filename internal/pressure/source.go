package pressure

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Source produces a raw reading. Sources may omit fields they cannot
// observe; the scorer evaluates whatever is present.
type Source interface {
	Read(ctx context.Context) (Sample, error)
}

// RandomWalk is the synthetic source used for demos and local runs. Each
// reading drifts from the previous one, more so during business hours.
type RandomWalk struct {
	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
	prev Sample
}

var walkStart = Sample{
	FieldAPIUsage:            45,
	FieldDatabaseConnections: 35,
	FieldConcurrentUsers:     40,
	FieldMemoryUsage:         60,
	FieldCPUUsage:            45,
	FieldNetworkLatency:      25,
	FieldErrorRate:           0.5,
	FieldQueueDepth:          23,
}

func NewRandomWalk(seed int64) *RandomWalk {
	return &RandomWalk{rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

func (w *RandomWalk) Read(_ context.Context) (Sample, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.prev
	if prev == nil {
		prev = walkStart
	}

	hour := w.now().Hour()
	multiplier := 0.7
	if hour >= 9 && hour <= 17 {
		multiplier = 1.3
	}

	jitter := func(span float64) float64 { return (w.rng.Float64() - 0.5) * span }

	next := Sample{
		FieldAPIUsage:            clamp(prev[FieldAPIUsage]+jitter(10*multiplier), 0, 100),
		FieldDatabaseConnections: clamp(prev[FieldDatabaseConnections]+jitter(8), 0, 100),
		FieldConcurrentUsers:     clamp(prev[FieldConcurrentUsers]+jitter(15*multiplier), 0, 100),
		FieldMemoryUsage:         clamp(prev[FieldMemoryUsage]+jitter(5), 0, 100),
		FieldCPUUsage:            clamp(prev[FieldCPUUsage]+jitter(12), 0, 100),
		FieldNetworkLatency:      clamp(prev[FieldNetworkLatency]+jitter(8), 0, 100),
		FieldErrorRate:           clamp(prev[FieldErrorRate]+jitter(0.3), 0, 10),
		FieldQueueDepth:          clamp(prev[FieldQueueDepth]+math.Floor(jitter(10)), 0, 1000),
	}
	w.prev = next

	out := make(Sample, len(next))
	for k, v := range next {
		out[k] = v
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// CounterReader reads the Redis hashes the request middleware and the
// event worker write to.
type CounterReader interface {
	GetFields(ctx context.Context, key string) (map[string]string, error)
}

type PoolStats interface {
	ConnectionPressure() float64
}

type SessionCounter interface {
	Count() int
}

type QueueInspector interface {
	QueueDepth(ctx context.Context) (int, error)
}

// Telemetry reads real process and infrastructure signals. CPU is never
// reported, and any collaborator left nil drops its fields.
type Telemetry struct {
	Counters CounterReader
	DB       PoolStats
	Sessions SessionCounter
	Queue    QueueInspector

	// RequestCapacity is the per-minute request count treated as 100% API usage.
	RequestCapacity int
	// UserCapacity is the session count treated as 100% concurrent users.
	UserCapacity int
	// WebhookBudget is the AI webhook latency treated as 100% network
	// latency, normally the generation timeout.
	WebhookBudget time.Duration

	now func() time.Time
}

func (t *Telemetry) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Telemetry) Read(ctx context.Context) (Sample, error) {
	s := Sample{}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys > 0 {
		s[FieldMemoryUsage] = clamp(float64(ms.HeapInuse)/float64(ms.Sys)*100, 0, 100)
	}

	if t.DB != nil {
		s[FieldDatabaseConnections] = clamp(t.DB.ConnectionPressure(), 0, 100)
	}

	if t.Sessions != nil && t.UserCapacity > 0 {
		s[FieldConcurrentUsers] = clamp(float64(t.Sessions.Count())/float64(t.UserCapacity)*100, 0, 100)
	}

	if t.Counters != nil {
		now := t.clock()
		reqs, err := t.Counters.GetFields(ctx, HTTPBucketKey(now))
		if err != nil {
			return s, err
		}
		gen, err := t.Counters.GetFields(ctx, GenerationBucketKey(now))
		if err != nil {
			return s, err
		}

		requests := counter(reqs, CounterRequests)
		if t.RequestCapacity > 0 {
			s[FieldAPIUsage] = clamp(requests/float64(t.RequestCapacity)*100, 0, 100)
		}
		if requests > 0 {
			s[FieldNetworkLatency] = clamp(counter(reqs, CounterLatencyMS)/requests, 0, 100)
		}
		generations := counter(gen, CounterGenerations)
		if generations > 0 && t.WebhookBudget > 0 {
			avg := counter(gen, CounterWebhookMS) / generations
			pct := clamp(avg/float64(t.WebhookBudget.Milliseconds())*100, 0, 100)
			if pct > s[FieldNetworkLatency] {
				s[FieldNetworkLatency] = pct
			}
		}

		attempts := requests + generations
		if attempts > 0 {
			failures := counter(reqs, CounterErrors) + counter(gen, CounterFailures)
			s[FieldErrorRate] = clamp(failures/attempts*100, 0, 10)
		} else {
			s[FieldErrorRate] = 0
		}
	}

	if t.Queue != nil {
		if depth, err := t.Queue.QueueDepth(ctx); err == nil {
			s[FieldQueueDepth] = clamp(float64(depth), 0, math.MaxInt32)
		}
	}
	return s, nil
}

func counter(fields map[string]string, name string) float64 {
	v, err := strconv.ParseFloat(fields[name], 64)
	if err != nil {
		return 0
	}
	return v
}
