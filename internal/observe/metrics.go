// Package observe provides the OpenTelemetry instruments recorded by the
// intake client: backend request latency and outcomes, submissions,
// narration volume and live recordings.
//
// Tests should build a Metrics with NewMetrics and an SDK MeterProvider backed
// by a ManualReader. A nil *Metrics is valid and records nothing.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"fieldtriage/internal/domain"
)

const meterName = "fieldtriage"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// RequestDuration tracks backend call latency, by endpoint and status.
	RequestDuration metric.Float64Histogram

	// Requests counts backend calls, by endpoint and status.
	Requests metric.Int64Counter

	// Submissions counts finished analyses, by outcome (done, failed, rejected).
	Submissions metric.Int64Counter

	// Transcripts counts transcription outcomes.
	Transcripts metric.Int64Counter

	// NarrationEntries counts narration appends.
	NarrationEntries metric.Int64Counter

	// ActiveRecordings is the number of held microphones.
	ActiveRecordings metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RequestDuration, err = m.Float64Histogram("fieldtriage.backend.duration",
		metric.WithDescription("Latency of backend requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Requests, err = m.Int64Counter("fieldtriage.backend.requests",
		metric.WithDescription("Backend requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("fieldtriage.intake.submissions",
		metric.WithDescription("Case submissions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("fieldtriage.intake.transcripts",
		metric.WithDescription("Transcription attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.NarrationEntries, err = m.Int64Counter("fieldtriage.narration.entries",
		metric.WithDescription("Narration log appends."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("fieldtriage.capture.active",
		metric.WithDescription("Microphones currently held by a capture session."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordRequest observes one backend call.
func (m *Metrics) RecordRequest(ctx context.Context, endpoint, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	)
	m.RequestDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.Requests.Add(ctx, 1, attrs)
}

// RecordSubmission counts a submission outcome.
func (m *Metrics) RecordSubmission(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranscript counts a transcription outcome.
func (m *Metrics) RecordTranscript(ctx context.Context, outcome domain.TranscriptOutcome) {
	if m == nil {
		return
	}
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// RecordingStarted and RecordingStopped track microphone ownership.
func (m *Metrics) RecordingStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Add(ctx, 1)
}

func (m *Metrics) RecordingStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Add(ctx, -1)
}

// NarrationAppended lets Metrics observe a narration log directly.
func (m *Metrics) NarrationAppended(domain.NarrationEntry) {
	if m == nil {
		return
	}
	m.NarrationEntries.Add(context.Background(), 1)
}
