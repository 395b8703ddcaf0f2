package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	// AckWorkflowID is the fixed workflow for protocol acknowledgments.
	AckWorkflowID = "MESH_RELAY_SEND_REQUEST_ACK"
	// ReportWorkflowID is the fixed workflow for daily report delivery.
	ReportWorkflowID = "MESH_RELAY_DAILY_REPORT"

	// ackSubject mirrors an HTTP 202: the request was accepted for processing.
	ackSubject = "202"
)

// acknowledgmentBody is the JSON payload of a protocol acknowledgment.
type acknowledgmentBody struct {
	MeshMessageID string `json:"meshMessageId"`
	RequestID     string `json:"requestId"`
}

// Notifier sends acknowledgments and report payloads into recipient mailboxes.
type Notifier struct {
	client InboxClient
	logger zerolog.Logger
}

// NewNotifier creates a Notifier and performs the mailbox handshake.
func NewNotifier(ctx context.Context, client InboxClient, logger zerolog.Logger) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("inbox client cannot be nil")
	}
	if err := client.Handshake(ctx); err != nil {
		return nil, fmt.Errorf("mailbox handshake failed: %w", err)
	}
	return &Notifier{
		client: client,
		logger: logger.With().Str("component", "MailboxNotifier").Logger(),
	}, nil
}

// SendAcknowledgment sends a protocol acknowledgment for a processed message
// to the original sender's mailbox and returns the network-assigned id of the
// acknowledgment message.
func (n *Notifier) SendAcknowledgment(ctx context.Context, mailboxID, meshMessageID, messageReference, senderID string) (string, error) {
	body, err := json.Marshal(acknowledgmentBody{
		MeshMessageID: meshMessageID,
		RequestID:     fmt.Sprintf("%s_%s", senderID, messageReference),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal acknowledgment body: %w", err)
	}

	ackMessageID, err := n.client.Send(ctx, SendRequest{
		MailboxID:  mailboxID,
		Body:       body,
		WorkflowID: AckWorkflowID,
		LocalID:    messageReference,
		Subject:    ackSubject,
	})
	if err != nil {
		n.logger.Error().Err(err).
			Str("mailbox_id", mailboxID).
			Str("mesh_message_id", meshMessageID).
			Str("message_reference", messageReference).
			Msg("Failed to send acknowledgment to mailbox.")
		return "", fmt.Errorf("failed to send acknowledgment to mailbox %s: %w", mailboxID, err)
	}

	n.logger.Info().
		Str("mailbox_id", mailboxID).
		Str("mesh_message_id", meshMessageID).
		Str("message_reference", messageReference).
		Str("ack_message_id", ackMessageID).
		Msg("Acknowledged mailbox message.")
	return ackMessageID, nil
}

// SendReport delivers a report file to a reporting mailbox. The subject
// carries the report date so recipients can file it without opening the body.
func (n *Notifier) SendReport(ctx context.Context, reportsMailboxID string, report []byte, reportDate, reportReference string) (string, error) {
	messageID, err := n.client.Send(ctx, SendRequest{
		MailboxID:  reportsMailboxID,
		Body:       report,
		WorkflowID: ReportWorkflowID,
		LocalID:    reportReference,
		Subject:    reportDate,
	})
	if err != nil {
		n.logger.Error().Err(err).
			Str("reports_mailbox_id", reportsMailboxID).
			Str("report_date", reportDate).
			Msg("Failed to send report to mailbox.")
		return "", fmt.Errorf("failed to send report to mailbox %s: %w", reportsMailboxID, err)
	}

	n.logger.Info().
		Str("reports_mailbox_id", reportsMailboxID).
		Str("report_date", reportDate).
		Str("report_reference", reportReference).
		Msg("Sent report to mailbox.")
	return messageID, nil
}
