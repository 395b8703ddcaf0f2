// Package poller drains the mailbox-network inbox within a time budget and
// announces each authorized message as an inbox-message-received event.
package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/mailbox"
	"github.com/illmade-knight/go-mesh-relay/pkg/metrics"
)

// EventSender is the slice of the event gateway the poller needs.
type EventSender interface {
	SendEvents(ctx context.Context, envs []*events.Envelope, validate events.Validator) []*events.Envelope
}

// SenderAuthorizer answers the allow-list queries the poller makes.
type SenderAuthorizer interface {
	IsValidSender(mailboxID string) bool
	SenderID(mailboxID string) (string, bool)
}

// Config holds configuration for the Poller.
type Config struct {
	// MinimumRemaining is the smallest remaining time budget the poller will
	// start another message with. Below it the run exits and leaves the rest
	// of the inbox for the next invocation.
	MinimumRemaining time.Duration
	// RejectEmptyReference controls the policy for messages from known
	// senders whose local reference is missing or whitespace-only: false
	// publishes a received event as normal, true acknowledges and drops the
	// message without an event.
	RejectEmptyReference bool
}

// Poller iterates the inbox and publishes received events for known senders.
// Messages from unknown senders are acknowledged and dropped without an
// event or any response to the sender.
type Poller struct {
	cfg        Config
	client     mailbox.InboxClient
	directory  SenderAuthorizer
	sender     EventSender
	factory    *events.Factory
	pollMetric metrics.Recorder
	logger     zerolog.Logger
}

// New creates a Poller and performs the mailbox handshake.
func New(
	ctx context.Context,
	cfg Config,
	client mailbox.InboxClient,
	directory SenderAuthorizer,
	sender EventSender,
	factory *events.Factory,
	pollMetric metrics.Recorder,
	logger zerolog.Logger,
) (*Poller, error) {
	if client == nil {
		return nil, fmt.Errorf("inbox client cannot be nil")
	}
	if directory == nil {
		return nil, fmt.Errorf("sender directory cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("event sender cannot be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("event factory cannot be nil")
	}
	if pollMetric == nil {
		pollMetric = metrics.Nop()
	}
	if err := client.Handshake(ctx); err != nil {
		return nil, fmt.Errorf("mailbox handshake failed: %w", err)
	}
	return &Poller{
		cfg:        cfg,
		client:     client,
		directory:  directory,
		sender:     sender,
		factory:    factory,
		pollMetric: pollMetric,
		logger:     logger.With().Str("component", "InboxPoller").Logger(),
	}, nil
}

// Run drains the inbox until it is empty or the remaining budget drops below
// the configured minimum. remaining reports the invocation's time budget; the
// poll-cycle metric is recorded exactly once per run, on exit. Failures while
// processing one message never abort the run.
func (p *Poller) Run(ctx context.Context, remaining func() time.Duration) error {
	defer p.pollMetric.Record(ctx, 1)

	for {
		p.logger.Info().Msg("Polling for messages.")
		msgs, err := p.client.IterateInbox(ctx)
		if err != nil {
			return fmt.Errorf("failed to iterate inbox: %w", err)
		}
		if len(msgs) == 0 {
			p.logger.Info().Msg("No new messages found. Exiting.")
			return nil
		}
		for _, msg := range msgs {
			if remaining() < p.cfg.MinimumRemaining {
				p.logger.Info().Msg("Not enough time to process more messages. Exiting.")
				return nil
			}
			p.processMessage(ctx, msg)
		}
	}
}

// processMessage handles one inbox message: authorize the sender, then
// publish a received event. Data messages are deliberately NOT acknowledged
// here; the download stage acknowledges only after the body is durably stored
// and announced.
func (p *Poller) processMessage(ctx context.Context, msg mailbox.Message) {
	senderMailboxID := msg.SenderMailboxID()
	reference := msg.LocalReference()
	logger := p.logger.With().
		Str("message_id", msg.ID()).
		Str("sender_mailbox_id", senderMailboxID).
		Str("workflow_id", msg.WorkflowID()).
		Str("local_id", reference).
		Str("message_type", msg.MessageType()).
		Logger()
	logger.Info().Msg("Processing message.")

	if !p.directory.IsValidSender(senderMailboxID) {
		// Silent-drop policy for unauthorized senders: remove the message,
		// no event, no response to the sender.
		logger.Error().Msg("Cannot authorize sender; acknowledging and dropping message.")
		p.acknowledge(ctx, msg, logger)
		return
	}

	senderID, _ := p.directory.SenderID(senderMailboxID)

	if strings.TrimSpace(reference) == "" {
		if p.cfg.RejectEmptyReference {
			logger.Warn().Msg("Message has no local reference; acknowledging and dropping.")
			p.acknowledge(ctx, msg, logger)
			return
		}
		// Accept variant: the message is announced like any other and also
		// acknowledged, since no download stage will reference it back.
		if p.publishReceived(ctx, msg.ID(), senderID, reference, logger) {
			p.acknowledge(ctx, msg, logger)
		}
		return
	}

	p.publishReceived(ctx, msg.ID(), senderID, reference, logger)
}

// publishReceived emits the received event, reporting success. Publish
// failures are logged and swallowed so the poll loop continues.
func (p *Poller) publishReceived(ctx context.Context, messageID, senderID, reference string, logger zerolog.Logger) bool {
	env, err := p.factory.NewReceived(events.ReceivedData{
		MeshMessageID:    messageID,
		SenderID:         senderID,
		MessageReference: reference,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build received event.")
		return false
	}
	if failed := p.sender.SendEvents(ctx, []*events.Envelope{env}, events.ValidateReceived); len(failed) > 0 {
		logger.Error().Int("failed_count", len(failed)).Msg("Failed to publish received event.")
		return false
	}
	logger.Info().Str("sender_id", senderID).Msg("Published received event.")
	return true
}

func (p *Poller) acknowledge(ctx context.Context, msg mailbox.Message, logger zerolog.Logger) {
	if err := msg.Acknowledge(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to acknowledge message.")
		return
	}
	logger.Info().Msg("Acknowledged message.")
}
