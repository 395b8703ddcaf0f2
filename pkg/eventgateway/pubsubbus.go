package eventgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
)

// PubsubBusConfig holds configuration for the Pub/Sub event bus publisher.
type PubsubBusConfig struct {
	TopicID                    string
	PublishConfirmationTimeout time.Duration
	TopicExistsTimeout         time.Duration
}

// NewPubsubBusDefaults provides a config with sensible defaults.
func NewPubsubBusDefaults(topicID string) *PubsubBusConfig {
	return &PubsubBusConfig{
		TopicID:                    topicID,
		PublishConfirmationTimeout: 20 * time.Second,
		TopicExistsTimeout:         15 * time.Second,
	}
}

// PubsubBus implements BusPublisher on a Pub/Sub topic. Each envelope is
// published with its type and source as attributes so subscriptions can
// filter without decoding the body.
type PubsubBus struct {
	topic                      *pubsub.Topic
	publishConfirmationTimeout time.Duration
	logger                     zerolog.Logger
}

// NewPubsubBus creates the publisher and validates the topic's existence.
func NewPubsubBus(ctx context.Context, cfg *PubsubBusConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubBus, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for bus publisher")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubBus initialized successfully.")
	return &PubsubBus{
		topic:                      topic,
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
		logger:                     logger.With().Str("component", "PubsubBus").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// PublishBatch implements BusPublisher. Every envelope in the batch is
// published before any result is awaited, and envelopes whose result cannot
// be confirmed are returned as failed.
func (b *PubsubBus) PublishBatch(ctx context.Context, envs []*events.Envelope) ([]*events.Envelope, error) {
	if len(envs) == 0 {
		return nil, nil
	}

	var failed []*events.Envelope
	results := make([]*pubsub.PublishResult, len(envs))
	for i, e := range envs {
		payload, err := json.Marshal(e)
		if err != nil {
			b.logger.Error().Err(err).Str("event_id", e.ID).Msg("Failed to marshal envelope for publishing.")
			failed = append(failed, e)
			continue
		}
		results[i] = b.topic.Publish(ctx, &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				"type":   e.Type,
				"source": e.Source,
			},
		})
	}

	for i, res := range results {
		if res == nil {
			continue
		}
		getCtx, cancel := context.WithTimeout(ctx, b.publishConfirmationTimeout)
		msgID, err := res.Get(getCtx)
		cancel()
		if err != nil {
			b.logger.Error().Err(err).Str("event_id", envs[i].ID).Msg("Failed to get publish result.")
			failed = append(failed, envs[i])
			continue
		}
		b.logger.Debug().Str("event_id", envs[i].ID).Str("pubsub_msg_id", msgID).Msg("Event published successfully.")
	}
	return failed, nil
}

// Stop flushes buffered messages and stops the topic's publish goroutines.
func (b *PubsubBus) Stop() {
	b.topic.Stop()
}
