// Package processor holds the queue-triggered pipelines: download,
// acknowledge and report-send. Each processes a batch of notifications one
// item at a time, converts any stage failure into a per-item failure marker
// and returns the markers to the invoker for selective redelivery.
package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
	"github.com/illmade-knight/go-mesh-relay/pkg/statusstore"
)

// EventSender is the slice of the event gateway the processors need.
type EventSender interface {
	SendEvents(ctx context.Context, envs []*events.Envelope, validate events.Validator) []*events.Envelope
}

const (
	statusProcessed = "processed"
	statusFailed    = "failed"
)

// processBatch runs fn over each matching record, collecting per-item
// failures. Records from an unexpected event source are skipped without side
// effects and without a failure marker. Errors never propagate past this
// boundary; they become batch item failures.
func processBatch(
	ctx context.Context,
	pipeline string,
	ev queue.Event,
	expectedSource string,
	status statusstore.Recorder,
	logger zerolog.Logger,
	fn func(ctx context.Context, rec queue.Record) error,
) queue.Response {
	logger.Info().Int("record_count", len(ev.Records)).Msg("Received queue batch.")

	resp := queue.Response{BatchItemFailures: []queue.BatchItemFailure{}}
	processed, failed := 0, 0

	for _, rec := range ev.Records {
		if rec.EventSource != expectedSource {
			logger.Warn().Str("message_id", rec.MessageID).Str("event_source", rec.EventSource).
				Msg("Skipping record from unexpected source.")
			continue
		}

		if err := fn(ctx, rec); err != nil {
			failed++
			logger.Error().Err(err).Str("message_id", rec.MessageID).Msg("Failed to process queue record.")
			resp.BatchItemFailures = append(resp.BatchItemFailures, queue.BatchItemFailure{ItemIdentifier: rec.MessageID})
			status.Record(ctx, statusstore.Outcome{
				Pipeline:   pipeline,
				ItemID:     rec.MessageID,
				Status:     statusFailed,
				Detail:     err.Error(),
				OccurredAt: time.Now().UTC(),
			})
			continue
		}

		processed++
		status.Record(ctx, statusstore.Outcome{
			Pipeline:   pipeline,
			ItemID:     rec.MessageID,
			Status:     statusProcessed,
			OccurredAt: time.Now().UTC(),
		})
	}

	logger.Info().
		Int("retrieved", len(ev.Records)).
		Int("processed", processed).
		Int("failed", failed).
		Msg("Processed queue batch.")
	return resp
}
