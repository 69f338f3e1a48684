// Package observe holds the OpenTelemetry instruments recorded by the blow
// detector. Tests should build [Metrics] from their own
// [metric.MeterProvider]; production wiring passes the SDK provider created
// in main.
package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/petems/wish-candle"

// Instrument names.
const (
	EvaluationsMetric = "candle.detector.evaluations"
	LoudnessMetric    = "candle.detector.rms"
	DetectionsMetric  = "candle.detector.detections"
	MicErrorsMetric   = "candle.mic.errors"
	WindowsMetric     = "candle.detector.windows"
)

// Metrics are safe for concurrent use.
type Metrics struct {
	// Evaluations counts loudness samples compared against the threshold.
	Evaluations metric.Int64Counter

	// Loudness records every evaluated RMS value.
	Loudness metric.Float64Histogram

	// Detections counts one-shot blow events.
	Detections metric.Int64Counter

	// MicErrors counts failed capture opens and reads. Use with attribute:
	//   attribute.String("reason", ...)
	MicErrors metric.Int64Counter

	// Windows counts listening windows by outcome. Use with attribute:
	//   attribute.String("outcome", "detected"|"expired"|"stopped")
	Windows metric.Int64Counter
}

// rmsBuckets cover the [0, 1] RMS scale with detail around the threshold.
var rmsBuckets = []float64{
	0.005, 0.01, 0.02, 0.04, 0.06, 0.07, 0.08, 0.1, 0.2, 0.4, 1,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Evaluations, err = m.Int64Counter(EvaluationsMetric,
		metric.WithDescription("Loudness samples evaluated by the blow detector."),
	); err != nil {
		return nil, err
	}
	if met.Loudness, err = m.Float64Histogram(LoudnessMetric,
		metric.WithDescription("RMS loudness of evaluated sample windows."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(rmsBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter(DetectionsMetric,
		metric.WithDescription("Blow detections raised."),
	); err != nil {
		return nil, err
	}
	if met.MicErrors, err = m.Int64Counter(MicErrorsMetric,
		metric.WithDescription("Microphone open or read failures."),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter(WindowsMetric,
		metric.WithDescription("Listening episodes by outcome."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Default returns instruments on the global meter provider, which is a no-op
// until one is installed.
func Default() *Metrics {
	met, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		// The global provider never rejects these instruments
		panic(err)
	}
	return met
}

// RecordEvaluation records one threshold comparison.
func (m *Metrics) RecordEvaluation(ctx context.Context, rms float64) {
	m.Evaluations.Add(ctx, 1)
	m.Loudness.Record(ctx, rms)
}

// RecordDetection records a blow event.
func (m *Metrics) RecordDetection(ctx context.Context) {
	m.Detections.Add(ctx, 1)
}

// RecordMicError records a microphone failure.
func (m *Metrics) RecordMicError(ctx context.Context, reason string) {
	m.MicErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWindow records how a listening episode ended.
func (m *Metrics) RecordWindow(ctx context.Context, outcome string) {
	m.Windows.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
