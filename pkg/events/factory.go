package events

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// placeholderSubject is used until customer/recipient resolution exists for
// inbound mailbox traffic.
const placeholderSubject = "customer/00000000-0000-0000-0000-000000000000/recipient/00000000-0000-0000-0000-000000000000"

const (
	severityInfo = 2
)

// FactoryConfig identifies the deployment emitting events.
type FactoryConfig struct {
	// Environment is one of production, staging, development, uat.
	Environment string
	// Instance is primary, secondary or dev-{n}.
	Instance string
	// Channel is the trailing source segment, e.g. "mailbox" or "reporting".
	Channel string
}

// Factory builds validated outbound envelopes with a consistent source path.
type Factory struct {
	source string
}

// NewFactory creates a Factory for the given deployment.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Environment == "" || cfg.Instance == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("factory config requires environment, instance and channel")
	}
	f := &Factory{
		source: fmt.Sprintf("/mesh-relay/%s/%s/data-plane/digital-letters/%s",
			cfg.Environment, cfg.Instance, cfg.Channel),
	}
	probe := &Envelope{
		ID:             uuid.NewString(),
		SpecVersion:    "1.0",
		Source:         f.source,
		Subject:        placeholderSubject,
		Type:           TypeInboxMessageReceived,
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		RecordedTime:   time.Now().UTC().Format(time.RFC3339Nano),
		SeverityNumber: severityInfo,
		TraceParent:    NewTraceParent(),
		DataSchema:     SchemaInboxMessageReceived,
		Data:           json.RawMessage(`{}`),
	}
	if err := ValidateEnvelope(probe); err != nil {
		return nil, fmt.Errorf("factory config produces an invalid source: %w", err)
	}
	return f, nil
}

// NewTraceParent returns a fresh W3C trace-context header value.
func NewTraceParent() string {
	traceID := uuid.New()
	spanID := uuid.New()
	return fmt.Sprintf("00-%s-%s-01",
		hex.EncodeToString(traceID[:]),
		hex.EncodeToString(spanID[:8]))
}

// build assembles and validates an envelope of the given type.
func (f *Factory) build(eventType, schema string, data any, validate Validator) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	e := &Envelope{
		ID:             uuid.NewString(),
		SpecVersion:    "1.0",
		Source:         f.source,
		Subject:        placeholderSubject,
		Type:           eventType,
		Time:           now,
		RecordedTime:   now,
		SeverityNumber: severityInfo,
		SeverityText:   "INFO",
		TraceParent:    NewTraceParent(),
		DataSchema:     schema,
		Data:           raw,
	}
	if err := validate(e); err != nil {
		return nil, fmt.Errorf("built %s event failed validation: %w", eventType, err)
	}
	return e, nil
}

// NewReceived builds an inbox-message-received event.
func (f *Factory) NewReceived(data ReceivedData) (*Envelope, error) {
	return f.build(TypeInboxMessageReceived, SchemaInboxMessageReceived, data, ValidateReceived)
}

// NewReportSent builds a report-sent event.
func (f *Factory) NewReportSent(data ReportSentData) (*Envelope, error) {
	return f.build(TypeReportSent, SchemaReportSent, data, ValidateReportSent)
}

// Derive builds a follow-on event from an incoming one, keeping the incoming
// source, subject and trace context and restamping identity, timestamps, type
// and payload. The derived event is validated before being returned.
func Derive(incoming *Envelope, eventType, schema string, data any, validate Validator) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	derived := *incoming
	derived.ID = uuid.NewString()
	derived.Time = now
	derived.RecordedTime = now
	derived.Type = eventType
	derived.DataSchema = schema
	derived.Data = raw
	if err := validate(&derived); err != nil {
		return nil, fmt.Errorf("derived %s event failed validation: %w", eventType, err)
	}
	return &derived, nil
}
