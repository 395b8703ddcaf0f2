// Package metrics defines the counter interface the pipelines emit through.
// Metric transport is an external collaborator; the default implementation
// just logs the observation.
package metrics

import (
	"context"

	"github.com/rs/zerolog"
)

// Recorder records one metric observation.
type Recorder interface {
	Record(ctx context.Context, value int64)
}

// LogRecorder writes observations as structured log lines, which is enough
// for deployments where a log-based metric filter does the aggregation.
type LogRecorder struct {
	name   string
	logger zerolog.Logger
}

// NewLogRecorder creates a Recorder logging under the given metric name.
func NewLogRecorder(name string, logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{
		name:   name,
		logger: logger.With().Str("component", "MetricRecorder").Logger(),
	}
}

// Record implements Recorder.
func (r *LogRecorder) Record(_ context.Context, value int64) {
	r.logger.Info().Str("metric", r.name).Int64("value", value).Msg("Metric recorded.")
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, int64) {}

// Nop returns a Recorder that discards observations.
func Nop() Recorder { return nopRecorder{} }
