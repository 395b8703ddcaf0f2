package queue

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// DlqReasonAttribute is the message attribute naming why a record or event
// was routed to the dead-letter queue.
const DlqReasonAttribute = "DlqReason"

// DeadLetterEntry is one record or event bound for the dead-letter queue.
type DeadLetterEntry struct {
	// ID correlates the entry through the sink; callers set it to map
	// failures back to their originals.
	ID string
	// Body is the original record or event JSON.
	Body []byte
	// Reason is the DlqReason attribute value.
	Reason string
}

// DeadLetterSink accepts one batch of dead-letter entries per call and
// reports the subset it could not deliver.
type DeadLetterSink interface {
	SendBatch(ctx context.Context, entries []DeadLetterEntry) (failed []DeadLetterEntry, err error)
}

// PubsubDeadLetterConfig holds configuration for the Pub/Sub dead-letter sink.
type PubsubDeadLetterConfig struct {
	TopicID string
	// PublishConfirmationTimeout bounds the wait for each publish result.
	PublishConfirmationTimeout time.Duration
	TopicExistsTimeout         time.Duration
}

// NewPubsubDeadLetterDefaults provides a config with sensible defaults.
func NewPubsubDeadLetterDefaults(topicID string) *PubsubDeadLetterConfig {
	return &PubsubDeadLetterConfig{
		TopicID:                    topicID,
		PublishConfirmationTimeout: 20 * time.Second,
		TopicExistsTimeout:         15 * time.Second,
	}
}

// PubsubDeadLetter publishes dead-letter entries to a Pub/Sub topic, tagging
// each with the DlqReason attribute.
type PubsubDeadLetter struct {
	topic                      *pubsub.Topic
	publishConfirmationTimeout time.Duration
	logger                     zerolog.Logger
}

// NewPubsubDeadLetter creates the sink and validates the topic's existence.
func NewPubsubDeadLetter(ctx context.Context, cfg *PubsubDeadLetterConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubDeadLetter, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for dead-letter sink")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for dead-letter topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("dead-letter topic %s does not exist", cfg.TopicID)
	}

	return &PubsubDeadLetter{
		topic:                      topic,
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
		logger:                     logger.With().Str("component", "PubsubDeadLetter").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// SendBatch implements DeadLetterSink. Entries whose publish cannot be
// confirmed within the timeout are returned as failed.
func (d *PubsubDeadLetter) SendBatch(ctx context.Context, entries []DeadLetterEntry) ([]DeadLetterEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	d.logger.Warn().Int("entry_count", len(entries)).Msg("Sending entries to dead-letter queue.")

	results := make([]*pubsub.PublishResult, len(entries))
	for i, entry := range entries {
		results[i] = d.topic.Publish(ctx, &pubsub.Message{
			Data: entry.Body,
			Attributes: map[string]string{
				DlqReasonAttribute: entry.Reason,
			},
		})
	}

	var failed []DeadLetterEntry
	for i, res := range results {
		getCtx, cancel := context.WithTimeout(ctx, d.publishConfirmationTimeout)
		_, err := res.Get(getCtx)
		cancel()
		if err != nil {
			d.logger.Error().Err(err).Str("entry_id", entries[i].ID).Str("reason", entries[i].Reason).
				Msg("Failed to publish entry to dead-letter queue.")
			failed = append(failed, entries[i])
		}
	}
	return failed, nil
}

// Stop flushes buffered messages and stops the topic's publish goroutines.
func (d *PubsubDeadLetter) Stop() {
	d.topic.Stop()
}
