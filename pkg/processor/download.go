package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/mailbox"
	"github.com/illmade-knight/go-mesh-relay/pkg/metrics"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
	"github.com/illmade-knight/go-mesh-relay/pkg/statusstore"
)

// DocumentStorer writes a message body and returns its locator URI.
type DocumentStorer interface {
	Store(ctx context.Context, senderID, messageReference string, content []byte) (string, error)
}

// DownloadConfig holds configuration for the DownloadProcessor.
type DownloadConfig struct {
	// ExpectedEventSource filters queue records; others are skipped.
	ExpectedEventSource string
}

// DownloadProcessor fetches announced messages from the mailbox network,
// persists their bodies and announces the downloaded locations. The mailbox
// acknowledgment is gated on successful event publication: a message is never
// removed from the network before its content is durably recorded as an
// event.
type DownloadProcessor struct {
	cfg      DownloadConfig
	client   mailbox.InboxClient
	store    DocumentStorer
	sender   EventSender
	status   statusstore.Recorder
	dlMetric metrics.Recorder
	logger   zerolog.Logger
}

// NewDownloadProcessor creates the processor and performs the mailbox
// handshake.
func NewDownloadProcessor(
	ctx context.Context,
	cfg DownloadConfig,
	client mailbox.InboxClient,
	store DocumentStorer,
	sender EventSender,
	status statusstore.Recorder,
	dlMetric metrics.Recorder,
	logger zerolog.Logger,
) (*DownloadProcessor, error) {
	if client == nil {
		return nil, fmt.Errorf("inbox client cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("event sender cannot be nil")
	}
	if cfg.ExpectedEventSource == "" {
		cfg.ExpectedEventSource = queue.EventSourcePubsub
	}
	if status == nil {
		status = statusstore.Nop()
	}
	if dlMetric == nil {
		dlMetric = metrics.Nop()
	}
	if err := client.Handshake(ctx); err != nil {
		return nil, fmt.Errorf("mailbox handshake failed: %w", err)
	}
	return &DownloadProcessor{
		cfg:      cfg,
		client:   client,
		store:    store,
		sender:   sender,
		status:   status,
		dlMetric: dlMetric,
		logger:   logger.With().Str("component", "DownloadProcessor").Logger(),
	}, nil
}

// ProcessBatch handles one queue invocation.
func (p *DownloadProcessor) ProcessBatch(ctx context.Context, ev queue.Event) queue.Response {
	return processBatch(ctx, "download", ev, p.cfg.ExpectedEventSource, p.status, p.logger, p.processRecord)
}

func (p *DownloadProcessor) processRecord(ctx context.Context, rec queue.Record) error {
	detail, err := rec.Detail()
	if err != nil {
		return err
	}
	env, err := events.ParseEnvelope(detail)
	if err != nil {
		return err
	}
	if err := events.ValidateReceived(env); err != nil {
		return fmt.Errorf("received event failed validation: %w", err)
	}
	var data events.ReceivedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("failed to decode received event data: %w", err)
	}

	logger := p.logger.With().Str("mesh_message_id", data.MeshMessageID).Logger()
	logger.Info().Msg("Processing download request.")

	res, err := p.client.Retrieve(ctx, data.MeshMessageID)
	if err != nil {
		return fmt.Errorf("failed to retrieve message %s: %w", data.MeshMessageID, err)
	}
	if res.Status == mailbox.NotFound {
		logger.Error().Msg("Message not found in mailbox inbox.")
		return fmt.Errorf("message %s: %w", data.MeshMessageID, mailbox.ErrNotFound)
	}
	msg := res.Message

	content, err := msg.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read message %s: %w", data.MeshMessageID, err)
	}

	uri, err := p.store.Store(ctx, data.SenderID, data.MessageReference, content)
	if err != nil {
		return fmt.Errorf("failed to store message body: %w", err)
	}
	logger.Info().Str("message_uri", uri).Msg("Stored message body.")

	downloaded, err := events.Derive(env, events.TypeInboxMessageDownloaded, events.SchemaInboxMessageDownloaded,
		events.DownloadedData{
			MeshMessageID:    data.MeshMessageID,
			SenderID:         data.SenderID,
			MessageReference: data.MessageReference,
			MessageURI:       uri,
		}, events.ValidateDownloaded)
	if err != nil {
		return err
	}
	if failed := p.sender.SendEvents(ctx, []*events.Envelope{downloaded}, events.ValidateDownloaded); len(failed) > 0 {
		return fmt.Errorf("failed to publish downloaded event for message %s", data.MeshMessageID)
	}
	logger.Info().Str("message_uri", uri).Msg("Published downloaded event.")

	// Only now is it safe to remove the message from the network.
	if err := msg.Acknowledge(ctx); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", data.MeshMessageID, err)
	}
	logger.Info().Msg("Acknowledged message.")

	p.dlMetric.Record(ctx, 1)
	return nil
}
