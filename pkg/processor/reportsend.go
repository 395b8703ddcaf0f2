package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/metrics"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
	"github.com/illmade-knight/go-mesh-relay/pkg/statusstore"
)

// DlqReasonReportSentPublish is the dead-letter reason for a record whose
// report-sent event could not be published after the report was delivered.
const DlqReasonReportSentPublish = "Failed to publish report sent event"

// ReportsResolver resolves a sender's reporting mailbox.
type ReportsResolver interface {
	ReportsMailboxID(senderID string) (string, bool)
}

// ReportDownloader reads a report file by its locator URI.
type ReportDownloader interface {
	Download(ctx context.Context, uri string) ([]byte, error)
}

// ReportSender delivers a report into a reporting mailbox.
type ReportSender interface {
	SendReport(ctx context.Context, reportsMailboxID string, report []byte, reportDate, reportReference string) (string, error)
}

// ReportSendConfig holds configuration for the ReportSendProcessor.
type ReportSendConfig struct {
	ExpectedEventSource string
}

// ReportSendProcessor delivers generated report files to customer reporting
// mailboxes. It shares the AcknowledgeProcessor's retry contract: the mailbox
// send is the irreversible boundary, and a publish failure past it diverts to
// the dead-letter queue rather than forcing redelivery.
type ReportSendProcessor struct {
	cfg        ReportSendConfig
	directory  ReportsResolver
	reports    ReportDownloader
	notifier   ReportSender
	sender     EventSender
	factory    *events.Factory
	dlq        queue.DeadLetterSink
	status     statusstore.Recorder
	sendMetric metrics.Recorder
	logger     zerolog.Logger
}

// NewReportSendProcessor creates the processor.
func NewReportSendProcessor(
	cfg ReportSendConfig,
	directory ReportsResolver,
	reports ReportDownloader,
	notifier ReportSender,
	sender EventSender,
	factory *events.Factory,
	dlq queue.DeadLetterSink,
	status statusstore.Recorder,
	sendMetric metrics.Recorder,
	logger zerolog.Logger,
) (*ReportSendProcessor, error) {
	if directory == nil {
		return nil, fmt.Errorf("sender directory cannot be nil")
	}
	if reports == nil {
		return nil, fmt.Errorf("reports store cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("mailbox notifier cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("event sender cannot be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("event factory cannot be nil")
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
	if sendMetric == nil {
		sendMetric = metrics.Nop()
	}
	return &ReportSendProcessor{
		cfg:        cfg,
		directory:  directory,
		reports:    reports,
		notifier:   notifier,
		sender:     sender,
		factory:    factory,
		dlq:        dlq,
		status:     status,
		sendMetric: sendMetric,
		logger:     logger.With().Str("component", "ReportSendProcessor").Logger(),
	}, nil
}

// ProcessBatch handles one queue invocation.
func (p *ReportSendProcessor) ProcessBatch(ctx context.Context, ev queue.Event) queue.Response {
	return processBatch(ctx, "report-send", ev, p.cfg.ExpectedEventSource, p.status, p.logger, p.processRecord)
}

func (p *ReportSendProcessor) processRecord(ctx context.Context, rec queue.Record) error {
	detail, err := rec.Detail()
	if err != nil {
		return err
	}
	env, err := events.ParseEnvelope(detail)
	if err != nil {
		return err
	}
	if err := events.ValidateReportGenerated(env); err != nil {
		return fmt.Errorf("report-generated event failed validation: %w", err)
	}
	var data events.ReportGeneratedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("failed to decode report-generated event data: %w", err)
	}

	reportsMailboxID, ok := p.directory.ReportsMailboxID(data.SenderID)
	if !ok {
		return fmt.Errorf("no reporting mailbox for sender id %q", data.SenderID)
	}
	logger := p.logger.With().
		Str("sender_id", data.SenderID).
		Str("reports_mailbox_id", reportsMailboxID).
		Str("report_uri", data.ReportURI).
		Logger()

	report, err := p.reports.Download(ctx, data.ReportURI)
	if err != nil {
		return fmt.Errorf("failed to download report: %w", err)
	}

	reportDate := ReportDateFromURI(data.ReportURI)
	reportReference := uuid.NewString()
	if _, err := p.notifier.SendReport(ctx, reportsMailboxID, report, reportDate, reportReference); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	logger.Info().Str("report_date", reportDate).Str("report_reference", reportReference).Msg("Sent report to mailbox.")

	if err := p.publishReportSent(ctx, data.SenderID, reportsMailboxID, reportReference); err != nil {
		logger.Error().Err(err).Msg("Failed to publish report-sent event; diverting record to dead-letter queue.")
		if dlqErr := p.divertToDeadLetter(ctx, rec); dlqErr != nil {
			return fmt.Errorf("failed to dead-letter record after publish failure: %w", dlqErr)
		}
	}

	p.sendMetric.Record(ctx, 1)
	return nil
}

func (p *ReportSendProcessor) publishReportSent(ctx context.Context, senderID, reportsMailboxID, reportReference string) error {
	sent, err := p.factory.NewReportSent(events.ReportSentData{
		SenderID:         senderID,
		ReportsMailboxID: reportsMailboxID,
		ReportReference:  reportReference,
	})
	if err != nil {
		return err
	}
	if failed := p.sender.SendEvents(ctx, []*events.Envelope{sent}, events.ValidateReportSent); len(failed) > 0 {
		return fmt.Errorf("report-sent event was not delivered")
	}
	return nil
}

func (p *ReportSendProcessor) divertToDeadLetter(ctx context.Context, rec queue.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record for dead-letter queue: %w", err)
	}
	failed, err := p.dlq.SendBatch(ctx, []queue.DeadLetterEntry{{
		ID:     uuid.NewString(),
		Body:   body,
		Reason: DlqReasonReportSentPublish,
	}})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("dead-letter queue rejected the record")
	}
	return nil
}

// ReportDateFromURI extracts the report date from the tail of a report's
// storage key, e.g. ".../daily_2026-02-03.csv" yields "2026-02-03".
func ReportDateFromURI(uri string) string {
	name := path.Base(uri)
	name = strings.TrimSuffix(name, path.Ext(name))
	if len(name) > 10 {
		return name[len(name)-10:]
	}
	return name
}
