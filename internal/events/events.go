// Package events carries generation outcomes from the API to the worker over
// RabbitMQ. Publishing is best effort: a broker outage never fails a request.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/internal/pressure"
)

const GenerationQueue = "generation.recorded"

type GenerationRecorded struct {
	UserID         string                `json:"user_id"`
	Source         models.Source         `json:"source"`
	GenerationType models.GenerationType `json:"generation_type"`
	Success        bool                  `json:"success"`
	Error          string                `json:"error,omitempty"`
	LatencyMS      int64                 `json:"latency_ms"`
	OutputLength   int                   `json:"output_length"`
	RecordedAt     time.Time             `json:"recorded_at"`
}

func (e GenerationRecorded) Latency() time.Duration {
	return time.Duration(e.LatencyMS) * time.Millisecond
}

type Handler func(ctx context.Context, ev GenerationRecorded) error

var ErrEmptyBody = errors.New("events: empty message body")

// Decode parses one delivery body.
func Decode(body []byte) (GenerationRecorded, error) {
	var ev GenerationRecorded
	if len(body) == 0 {
		return ev, ErrEmptyBody
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("events: unmarshal: %w", err)
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	return ev, nil
}

// CounterSink folds events into the per-minute telemetry buckets.
func CounterSink(w pressure.CounterWriter) Handler {
	return func(ctx context.Context, ev GenerationRecorded) error {
		return pressure.RecordGeneration(ctx, w, ev.RecordedAt, ev.Success, ev.Latency())
	}
}
