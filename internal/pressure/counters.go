package pressure

import (
	"context"
	"strconv"
	"time"
)

// Hash fields written into the per-minute telemetry buckets.
const (
	CounterRequests    = "requests"
	CounterErrors      = "errors"
	CounterLatencyMS   = "latency_ms"
	CounterGenerations = "generations"
	CounterFailures    = "failures"
	CounterWebhookMS   = "webhook_ms"
)

const bucketTTL = 10 * time.Minute

func minute(t time.Time) string {
	return strconv.FormatInt(t.UTC().Unix()/60, 10)
}

func HTTPBucketKey(t time.Time) string {
	return "telemetry:http:" + minute(t)
}

func GenerationBucketKey(t time.Time) string {
	return "telemetry:generation:" + minute(t)
}

type CounterWriter interface {
	IncrementFields(ctx context.Context, key string, ttl time.Duration, fields map[string]int64) error
}

// RecordRequest counts one served HTTP request. Responses with status 500
// and above count as errors.
func RecordRequest(ctx context.Context, w CounterWriter, at time.Time, status int, latency time.Duration) error {
	fields := map[string]int64{
		CounterRequests:  1,
		CounterLatencyMS: latency.Milliseconds(),
	}
	if status >= 500 {
		fields[CounterErrors] = 1
	}
	return w.IncrementFields(ctx, HTTPBucketKey(at), bucketTTL, fields)
}

// RecordGeneration counts one recorded generation outcome.
func RecordGeneration(ctx context.Context, w CounterWriter, at time.Time, success bool, webhook time.Duration) error {
	fields := map[string]int64{
		CounterGenerations: 1,
		CounterWebhookMS:   webhook.Milliseconds(),
	}
	if !success {
		fields[CounterFailures] = 1
	}
	return w.IncrementFields(ctx, GenerationBucketKey(at), bucketTTL, fields)
}
