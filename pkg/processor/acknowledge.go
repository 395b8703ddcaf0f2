package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/metrics"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
	"github.com/illmade-knight/go-mesh-relay/pkg/statusstore"
)

// DlqReasonAcknowledgedPublish is the dead-letter reason for a record whose
// acknowledged event could not be published after the mailbox send succeeded.
const DlqReasonAcknowledgedPublish = "Failed to publish acknowledged event"

// MailboxResolver resolves a sender's acknowledgment mailbox.
type MailboxResolver interface {
	MailboxID(senderID string) (string, bool)
}

// AckSender sends a protocol acknowledgment into a mailbox.
type AckSender interface {
	SendAcknowledgment(ctx context.Context, mailboxID, meshMessageID, messageReference, senderID string) (string, error)
}

// AcknowledgeConfig holds configuration for the AcknowledgeProcessor.
type AcknowledgeConfig struct {
	ExpectedEventSource string
}

// AcknowledgeProcessor sends protocol acknowledgments for downloaded
// messages. Its retry policy is asymmetric around the mailbox send, which is
// irreversible: failures before it surface as batch item failures and are
// redelivered; an event-publish failure after it diverts the record to the
// dead-letter queue instead, so the send is never repeated. Only when the
// dead-letter send also fails is the item failed, accepting the
// duplicate-acknowledgment risk that redelivery implies.
type AcknowledgeProcessor struct {
	cfg       AcknowledgeConfig
	directory MailboxResolver
	notifier  AckSender
	sender    EventSender
	dlq       queue.DeadLetterSink
	status    statusstore.Recorder
	ackMetric metrics.Recorder
	logger    zerolog.Logger
}

// NewAcknowledgeProcessor creates the processor.
func NewAcknowledgeProcessor(
	cfg AcknowledgeConfig,
	directory MailboxResolver,
	notifier AckSender,
	sender EventSender,
	dlq queue.DeadLetterSink,
	status statusstore.Recorder,
	ackMetric metrics.Recorder,
	logger zerolog.Logger,
) (*AcknowledgeProcessor, error) {
	if directory == nil {
		return nil, fmt.Errorf("sender directory cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("mailbox notifier cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("event sender cannot be nil")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dead-letter sink cannot be nil")
	}
	if cfg.ExpectedEventSource == "" {
		cfg.ExpectedEventSource = queue.EventSourcePubsub
	}
	if status == nil {
		status = statusstore.Nop()
	}
	if ackMetric == nil {
		ackMetric = metrics.Nop()
	}
	return &AcknowledgeProcessor{
		cfg:       cfg,
		directory: directory,
		notifier:  notifier,
		sender:    sender,
		dlq:       dlq,
		status:    status,
		ackMetric: ackMetric,
		logger:    logger.With().Str("component", "AcknowledgeProcessor").Logger(),
	}, nil
}

// ProcessBatch handles one queue invocation.
func (p *AcknowledgeProcessor) ProcessBatch(ctx context.Context, ev queue.Event) queue.Response {
	return processBatch(ctx, "acknowledge", ev, p.cfg.ExpectedEventSource, p.status, p.logger, p.processRecord)
}

func (p *AcknowledgeProcessor) processRecord(ctx context.Context, rec queue.Record) error {
	detail, err := rec.Detail()
	if err != nil {
		return err
	}
	env, err := events.ParseEnvelope(detail)
	if err != nil {
		return err
	}
	if err := events.ValidateDownloaded(env); err != nil {
		return fmt.Errorf("downloaded event failed validation: %w", err)
	}
	var data events.DownloadedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("failed to decode downloaded event data: %w", err)
	}

	// By this stage the sender was validated once already, so an unknown
	// sender is a hard failure, not a silent drop.
	mailboxID, ok := p.directory.MailboxID(data.SenderID)
	if !ok {
		return fmt.Errorf("unknown sender id %q for message %s", data.SenderID, data.MeshMessageID)
	}
	logger := p.logger.With().
		Str("mesh_message_id", data.MeshMessageID).
		Str("sender_id", data.SenderID).
		Str("mesh_mailbox_id", mailboxID).
		Logger()

	ackMessageID, err := p.notifier.SendAcknowledgment(ctx, mailboxID, data.MeshMessageID, data.MessageReference, data.SenderID)
	if err != nil {
		return fmt.Errorf("failed to send acknowledgment: %w", err)
	}
	logger.Info().Str("ack_message_id", ackMessageID).Msg("Sent acknowledgment to mailbox.")

	if err := p.publishAcknowledged(ctx, env, data, mailboxID); err != nil {
		// The mailbox send already happened and must not be repeated, so the
		// record goes straight to the dead-letter queue rather than back to
		// the invoker as a batch item failure.
		logger.Error().Err(err).Msg("Failed to publish acknowledged event; diverting record to dead-letter queue.")
		if dlqErr := p.divertToDeadLetter(ctx, rec); dlqErr != nil {
			return fmt.Errorf("failed to dead-letter record after publish failure: %w", dlqErr)
		}
	}

	p.ackMetric.Record(ctx, 1)
	return nil
}

func (p *AcknowledgeProcessor) publishAcknowledged(ctx context.Context, incoming *events.Envelope, data events.DownloadedData, mailboxID string) error {
	acknowledged, err := events.Derive(incoming, events.TypeInboxMessageAcknowledged, events.SchemaInboxMessageAcknowledged,
		events.AcknowledgedData{
			SenderID:         data.SenderID,
			MessageReference: data.MessageReference,
			MeshMailboxID:    mailboxID,
		}, events.ValidateAcknowledged)
	if err != nil {
		return err
	}
	if failed := p.sender.SendEvents(ctx, []*events.Envelope{acknowledged}, events.ValidateAcknowledged); len(failed) > 0 {
		return fmt.Errorf("acknowledged event was not delivered")
	}
	return nil
}

func (p *AcknowledgeProcessor) divertToDeadLetter(ctx context.Context, rec queue.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record for dead-letter queue: %w", err)
	}
	failed, err := p.dlq.SendBatch(ctx, []queue.DeadLetterEntry{{
		ID:     uuid.NewString(),
		Body:   body,
		Reason: DlqReasonAcknowledgedPublish,
	}})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("dead-letter queue rejected the record")
	}
	return nil
}
