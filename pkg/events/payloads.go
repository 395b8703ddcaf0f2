package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event types and the canonical schema URIs for their data payloads.
const (
	TypeInboxMessageReceived     = "io.meshrelay.digital-letters.mailbox.inbox.message.received.v1"
	TypeInboxMessageDownloaded   = "io.meshrelay.digital-letters.mailbox.inbox.message.downloaded.v1"
	TypeInboxMessageAcknowledged = "io.meshrelay.digital-letters.mailbox.inbox.message.acknowledged.v1"
	TypeReportGenerated          = "io.meshrelay.digital-letters.reporting.report.generated.v1"
	TypeReportSent               = "io.meshrelay.digital-letters.reporting.report.sent.v1"

	SchemaInboxMessageReceived     = "https://meshrelay.io/cloudevents/schemas/digital-letters/mailbox-inbox-message-received-data.schema.json"
	SchemaInboxMessageDownloaded   = "https://meshrelay.io/cloudevents/schemas/digital-letters/mailbox-inbox-message-downloaded-data.schema.json"
	SchemaInboxMessageAcknowledged = "https://meshrelay.io/cloudevents/schemas/digital-letters/mailbox-inbox-message-acknowledged-data.schema.json"
	SchemaReportGenerated          = "https://meshrelay.io/cloudevents/schemas/digital-letters/reporting-report-generated-data.schema.json"
	SchemaReportSent               = "https://meshrelay.io/cloudevents/schemas/digital-letters/reporting-report-sent-data.schema.json"
)

// ReceivedData is the payload of an inbox-message-received event.
type ReceivedData struct {
	MeshMessageID    string `json:"meshMessageId"`
	SenderID         string `json:"senderId"`
	MessageReference string `json:"messageReference"`
}

// DownloadedData is the payload of an inbox-message-downloaded event. It keeps
// the mailbox-network message id so the acknowledge stage can reference the
// original message without a second lookup.
type DownloadedData struct {
	MeshMessageID    string `json:"meshMessageId"`
	SenderID         string `json:"senderId"`
	MessageReference string `json:"messageReference"`
	MessageURI       string `json:"messageUri"`
}

// AcknowledgedData is the payload of an inbox-message-acknowledged event.
type AcknowledgedData struct {
	SenderID         string `json:"senderId"`
	MessageReference string `json:"messageReference"`
	MeshMailboxID    string `json:"meshMailboxId"`
}

// ReportGeneratedData is the payload of a report-generated event.
type ReportGeneratedData struct {
	SenderID  string `json:"senderId"`
	ReportURI string `json:"reportUri"`
}

// ReportSentData is the payload of a report-sent event.
type ReportSentData struct {
	SenderID         string `json:"senderId"`
	ReportsMailboxID string `json:"meshMailboxReportsId"`
	ReportReference  string `json:"reportReference"`
}

// decodeStrict decodes raw into v, rejecting unknown fields. An envelope with
// extra payload fields is rejected, never partially accepted.
func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func expectType(e *Envelope, want string) error {
	if e.Type != want {
		return fmt.Errorf("field type: expected %q, got %q", want, e.Type)
	}
	return nil
}

// ValidateReceived validates an envelope carrying ReceivedData.
func ValidateReceived(e *Envelope) error {
	if err := ValidateEnvelope(e); err != nil {
		return err
	}
	if err := expectType(e, TypeInboxMessageReceived); err != nil {
		return err
	}
	var d ReceivedData
	if err := decodeStrict(e.Data, &d); err != nil {
		return fmt.Errorf("field data: %w", err)
	}
	if d.MeshMessageID == "" {
		return fmt.Errorf("field data.meshMessageId: required")
	}
	if d.SenderID == "" {
		return fmt.Errorf("field data.senderId: required")
	}
	return nil
}

// ValidateDownloaded validates an envelope carrying DownloadedData.
func ValidateDownloaded(e *Envelope) error {
	if err := ValidateEnvelope(e); err != nil {
		return err
	}
	if err := expectType(e, TypeInboxMessageDownloaded); err != nil {
		return err
	}
	var d DownloadedData
	if err := decodeStrict(e.Data, &d); err != nil {
		return fmt.Errorf("field data: %w", err)
	}
	if d.MeshMessageID == "" {
		return fmt.Errorf("field data.meshMessageId: required")
	}
	if d.SenderID == "" {
		return fmt.Errorf("field data.senderId: required")
	}
	if d.MessageReference == "" {
		return fmt.Errorf("field data.messageReference: required")
	}
	if d.MessageURI == "" {
		return fmt.Errorf("field data.messageUri: required")
	}
	return nil
}

// ValidateAcknowledged validates an envelope carrying AcknowledgedData.
func ValidateAcknowledged(e *Envelope) error {
	if err := ValidateEnvelope(e); err != nil {
		return err
	}
	if err := expectType(e, TypeInboxMessageAcknowledged); err != nil {
		return err
	}
	var d AcknowledgedData
	if err := decodeStrict(e.Data, &d); err != nil {
		return fmt.Errorf("field data: %w", err)
	}
	if d.SenderID == "" {
		return fmt.Errorf("field data.senderId: required")
	}
	if d.MeshMailboxID == "" {
		return fmt.Errorf("field data.meshMailboxId: required")
	}
	return nil
}

// ValidateReportGenerated validates an envelope carrying ReportGeneratedData.
func ValidateReportGenerated(e *Envelope) error {
	if err := ValidateEnvelope(e); err != nil {
		return err
	}
	if err := expectType(e, TypeReportGenerated); err != nil {
		return err
	}
	var d ReportGeneratedData
	if err := decodeStrict(e.Data, &d); err != nil {
		return fmt.Errorf("field data: %w", err)
	}
	if d.SenderID == "" {
		return fmt.Errorf("field data.senderId: required")
	}
	if d.ReportURI == "" {
		return fmt.Errorf("field data.reportUri: required")
	}
	return nil
}

// ValidateReportSent validates an envelope carrying ReportSentData.
func ValidateReportSent(e *Envelope) error {
	if err := ValidateEnvelope(e); err != nil {
		return err
	}
	if err := expectType(e, TypeReportSent); err != nil {
		return err
	}
	var d ReportSentData
	if err := decodeStrict(e.Data, &d); err != nil {
		return fmt.Errorf("field data: %w", err)
	}
	if d.SenderID == "" {
		return fmt.Errorf("field data.senderId: required")
	}
	if d.ReportsMailboxID == "" {
		return fmt.Errorf("field data.meshMailboxReportsId: required")
	}
	return nil
}

// ValidatorFor returns the payload validator for a given event type, or an
// envelope-only check for unrecognised types.
func ValidatorFor(eventType string) Validator {
	switch eventType {
	case TypeInboxMessageReceived:
		return ValidateReceived
	case TypeInboxMessageDownloaded:
		return ValidateDownloaded
	case TypeInboxMessageAcknowledged:
		return ValidateAcknowledged
	case TypeReportGenerated:
		return ValidateReportGenerated
	case TypeReportSent:
		return ValidateReportSent
	default:
		return ValidateEnvelope
	}
}
