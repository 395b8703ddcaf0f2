package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// BatchHandler processes one batch of records and reports per-item failures.
// A non-nil error marks the whole batch as failed.
type BatchHandler func(ctx context.Context, ev Event) (Response, error)

// ConsumerConfig holds configuration for the Pub/Sub batch consumer.
type ConsumerConfig struct {
	SubscriptionID string
	// BatchSize is the maximum records handed to the handler per invocation.
	BatchSize int
	// BatchDelay is how long a partial batch waits before being dispatched.
	BatchDelay             time.Duration
	MaxOutstandingMessages int
}

// NewConsumerDefaults provides a config with sensible defaults.
func NewConsumerDefaults(subID string) *ConsumerConfig {
	return &ConsumerConfig{
		SubscriptionID:         subID,
		BatchSize:              10,
		BatchDelay:             time.Second,
		MaxOutstandingMessages: 100,
	}
}

// Consumer adapts a Pub/Sub subscription to the batch contract: it assembles
// received messages into an Event, invokes the handler once per batch, then
// acks every record absent from the failure list and nacks the rest so the
// broker redelivers only the failed items. Batches are dispatched one at a
// time; there is no concurrent processing within the consumer.
type Consumer struct {
	subscription       *pubsub.Subscription
	handler            BatchHandler
	batchSize          int
	batchDelay         time.Duration
	logger             zerolog.Logger
	incoming           chan *pubsub.Message
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	wg                 sync.WaitGroup
	doneChan           chan struct{}
}

// NewConsumer creates a Consumer and validates the subscription's existence.
func NewConsumer(ctx context.Context, cfg *ConsumerConfig, client *pubsub.Client, handler BatchHandler, logger zerolog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for consumer")
	}
	if handler == nil {
		return nil, fmt.Errorf("batch handler cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	sub := client.Subscription(cfg.SubscriptionID)
	existsCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil || !exists {
		return nil, fmt.Errorf("subscription %s does not exist: %w", cfg.SubscriptionID, err)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	// One batch in flight at a time keeps processing batch-sequential.
	sub.ReceiveSettings.NumGoroutines = 1

	return &Consumer{
		subscription: sub,
		handler:      handler,
		batchSize:    cfg.BatchSize,
		batchDelay:   cfg.BatchDelay,
		logger:       logger.With().Str("component", "QueueConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		incoming:     make(chan *pubsub.Message, cfg.BatchSize),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving and dispatching batches.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting queue consumer...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.incoming)
		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			select {
			case c.incoming <- msg:
			case <-receiveCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error.")
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.doneChan)
		c.dispatchLoop(receiveCtx)
	}()
	return nil
}

// dispatchLoop gathers messages into batches and hands them to the handler.
func (c *Consumer) dispatchLoop(ctx context.Context) {
	var pending []*pubsub.Message
	timer := time.NewTimer(c.batchDelay)
	defer timer.Stop()

	flush := func() {
		if len(pending) > 0 {
			c.dispatch(ctx, pending)
			pending = nil
		}
		timer.Reset(c.batchDelay)
	}

	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				flush()
				return
			}
			pending = append(pending, msg)
			if len(pending) >= c.batchSize {
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

// dispatch invokes the handler for one batch and settles each message from
// the returned failure list.
func (c *Consumer) dispatch(ctx context.Context, msgs []*pubsub.Message) {
	ev := Event{Records: make([]Record, len(msgs))}
	for i, msg := range msgs {
		ev.Records[i] = Record{
			MessageID:   msg.ID,
			EventSource: EventSourcePubsub,
			Body:        string(msg.Data),
		}
	}

	resp, err := c.handler(ctx, ev)
	if err != nil {
		c.logger.Error().Err(err).Int("record_count", len(msgs)).Msg("Batch handler failed, nacking whole batch.")
		for _, msg := range msgs {
			msg.Nack()
		}
		return
	}

	failed := make(map[string]struct{}, len(resp.BatchItemFailures))
	for _, f := range resp.BatchItemFailures {
		failed[f.ItemIdentifier] = struct{}{}
	}
	for _, msg := range msgs {
		if _, isFailed := failed[msg.ID]; isFailed {
			msg.Nack()
		} else {
			msg.Ack()
		}
	}
	c.logger.Debug().Int("record_count", len(msgs)).Int("failed_count", len(failed)).Msg("Batch dispatched.")
}

// Stop ceases consumption and waits for in-flight batches to settle.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping queue consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			c.logger.Info().Msg("Queue consumer stopped.")
		case <-ctx.Done():
			err = ctx.Err()
			c.logger.Error().Err(err).Msg("Timeout waiting for queue consumer to stop.")
		}
	})
	return err
}

// Done returns a channel closed when the dispatch loop has fully stopped.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
