package eventgateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
)

// ====================================================================================
// The gateway is the single path for outbound domain events: it validates
// them, sends the valid ones to the event bus in fixed-size batches, and
// reroutes anything invalid or rejected by the bus to the dead-letter queue.
// The dead-letter queue is the only retry surface; no event is ever handed to
// the bus twice.
// ====================================================================================

// maxBatchSize bounds one bus or dead-letter call.
const maxBatchSize = 10

// Dead-letter reasons. The values are retained for compatibility with the
// existing dead-letter queue consumers.
const (
	ReasonInvalidEvent   = "INVALID_EVENT"
	ReasonPublishFailure = "EVENTBRIDGE_FAILURE"
)

// BusPublisher sends at most one batch of envelopes per call and reports the
// entries that failed. A non-nil error means the whole call failed and every
// entry in the batch must be treated as failed.
type BusPublisher interface {
	PublishBatch(ctx context.Context, envs []*events.Envelope) (failed []*events.Envelope, err error)
}

// Gateway validates, publishes and dead-letters outbound events.
type Gateway struct {
	bus    BusPublisher
	dlq    queue.DeadLetterSink
	logger zerolog.Logger
}

// New creates a Gateway.
func New(bus BusPublisher, dlq queue.DeadLetterSink, logger zerolog.Logger) (*Gateway, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus publisher cannot be nil")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dead-letter sink cannot be nil")
	}
	return &Gateway{
		bus:    bus,
		dlq:    dlq,
		logger: logger.With().Str("component", "EventGateway").Logger(),
	}, nil
}

// SendEvents validates envs with validate, publishes the valid subset to the
// bus and reroutes the rest to the dead-letter queue. The returned slice
// holds the envelopes that could not be delivered anywhere, including the
// dead-letter queue; an empty return means every event landed somewhere.
func (g *Gateway) SendEvents(ctx context.Context, envs []*events.Envelope, validate events.Validator) []*events.Envelope {
	if len(envs) == 0 {
		g.logger.Debug().Msg("No events to send.")
		return nil
	}

	var valid, invalid []*events.Envelope
	for _, e := range envs {
		if err := validate(e); err != nil {
			g.logger.Warn().Err(err).Str("event_id", e.ID).Msg("Event failed validation.")
			invalid = append(invalid, e)
		} else {
			valid = append(valid, e)
		}
	}
	g.logger.Info().
		Int("valid_count", len(valid)).
		Int("invalid_count", len(invalid)).
		Msg("Event validation completed.")

	var undeliverable []*events.Envelope
	if len(invalid) > 0 {
		undeliverable = append(undeliverable, g.sendToDeadLetter(ctx, invalid, ReasonInvalidEvent)...)
	}

	if len(valid) > 0 {
		rejected := g.sendToBus(ctx, valid)
		if len(rejected) > 0 {
			undeliverable = append(undeliverable, g.sendToDeadLetter(ctx, rejected, ReasonPublishFailure)...)
		}
	}
	return undeliverable
}

// sendToBus publishes envelopes in batches of maxBatchSize and collects the
// entries the bus rejected.
func (g *Gateway) sendToBus(ctx context.Context, envs []*events.Envelope) []*events.Envelope {
	var rejected []*events.Envelope
	for start := 0; start < len(envs); start += maxBatchSize {
		end := min(start+maxBatchSize, len(envs))
		batch := envs[start:end]

		failed, err := g.bus.PublishBatch(ctx, batch)
		if err != nil {
			g.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("Event bus batch call failed outright.")
			rejected = append(rejected, batch...)
			continue
		}
		for _, e := range failed {
			g.logger.Warn().Str("event_id", e.ID).Msg("Event rejected by the bus.")
		}
		rejected = append(rejected, failed...)
	}
	return rejected
}

// sendToDeadLetter routes envelopes to the dead-letter queue in batches of
// maxBatchSize and returns those that failed the dead-letter send too.
func (g *Gateway) sendToDeadLetter(ctx context.Context, envs []*events.Envelope, reason string) []*events.Envelope {
	var undeliverable []*events.Envelope
	for start := 0; start < len(envs); start += maxBatchSize {
		end := min(start+maxBatchSize, len(envs))
		batch := envs[start:end]

		entryToEnv := make(map[string]*events.Envelope, len(batch))
		entries := make([]queue.DeadLetterEntry, 0, len(batch))
		for _, e := range batch {
			body, err := json.Marshal(e)
			if err != nil {
				g.logger.Error().Err(err).Str("event_id", e.ID).Msg("Failed to marshal event for dead-letter queue.")
				undeliverable = append(undeliverable, e)
				continue
			}
			entryID := uuid.NewString()
			entryToEnv[entryID] = e
			entries = append(entries, queue.DeadLetterEntry{ID: entryID, Body: body, Reason: reason})
		}
		if len(entries) == 0 {
			continue
		}

		failed, err := g.dlq.SendBatch(ctx, entries)
		if err != nil {
			g.logger.Error().Err(err).Int("batch_size", len(entries)).Msg("Dead-letter batch call failed outright.")
			for _, entry := range entries {
				undeliverable = append(undeliverable, entryToEnv[entry.ID])
			}
			continue
		}
		for _, entry := range failed {
			if e, ok := entryToEnv[entry.ID]; ok {
				g.logger.Error().Str("event_id", e.ID).Str("reason", reason).Msg("Event failed the dead-letter send.")
				undeliverable = append(undeliverable, e)
			}
		}
	}
	return undeliverable
}
