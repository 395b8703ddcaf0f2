package events

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ====================================================================================
// This file defines the versioned domain-event envelope shared by all relay
// pipelines, plus the field-level validation rules for the envelope itself.
// Payload (data) validation is type-specific and lives in payloads.go.
// ====================================================================================

// Envelope is the CloudEvents-profile wrapper carried on the event bus. The
// data field is kept raw so each event type can decode and validate it
// strictly against its own payload shape.
type Envelope struct {
	ID             string `json:"id"`
	SpecVersion    string `json:"specversion"`
	Source         string `json:"source"`
	Subject        string `json:"subject"`
	Type           string `json:"type"`
	Time           string `json:"time"`
	RecordedTime   string `json:"recordedtime"`
	SeverityNumber int    `json:"severitynumber"`
	TraceParent    string `json:"traceparent"`
	DataSchema     string `json:"dataschema"`

	// Optional profile fields.
	DataContentType    string `json:"datacontenttype,omitempty"`
	SeverityText       string `json:"severitytext,omitempty"`
	DataClassification string `json:"dataclassification,omitempty"`
	DataRegulation     string `json:"dataregulation,omitempty"`
	DataCategory       string `json:"datacategory,omitempty"`

	Data json.RawMessage `json:"data"`
}

// Validator checks a fully-built envelope, including its typed data payload.
type Validator func(e *Envelope) error

var (
	sourcePattern = regexp.MustCompile(
		`^/mesh-relay/(production|staging|development|uat)/(primary|secondary|dev-\d+)/(data-plane|control-plane)/digital-letters/[a-z-]+$`)
	subjectPattern = regexp.MustCompile(
		`^customer/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}` +
			`/recipient/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	typePattern        = regexp.MustCompile(`^io\.meshrelay\.digital-letters\.[a-z0-9.-]+\.v\d+$`)
	traceparentPattern = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)
	uuidPattern        = regexp.MustCompile(
		`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// ValidateEnvelope checks the envelope-level fields against the event profile.
// It does not inspect the data payload; use a type-specific Validator for that.
func ValidateEnvelope(e *Envelope) error {
	if e == nil {
		return fmt.Errorf("envelope is nil")
	}
	if !uuidPattern.MatchString(e.ID) {
		return fmt.Errorf("field id: %q is not a UUID", e.ID)
	}
	if e.SpecVersion != "1.0" {
		return fmt.Errorf("field specversion: expected \"1.0\", got %q", e.SpecVersion)
	}
	if !sourcePattern.MatchString(e.Source) {
		return fmt.Errorf("field source: %q does not match the event source pattern", e.Source)
	}
	if !subjectPattern.MatchString(e.Subject) {
		return fmt.Errorf("field subject: %q must be customer/{uuid}/recipient/{uuid}", e.Subject)
	}
	if !typePattern.MatchString(e.Type) {
		return fmt.Errorf("field type: %q does not match the versioned event type pattern", e.Type)
	}
	if e.Time == "" {
		return fmt.Errorf("field time: required")
	}
	if e.RecordedTime == "" {
		return fmt.Errorf("field recordedtime: required")
	}
	if e.SeverityNumber < 0 || e.SeverityNumber > 5 {
		return fmt.Errorf("field severitynumber: %d is outside 0-5", e.SeverityNumber)
	}
	if !traceparentPattern.MatchString(e.TraceParent) {
		return fmt.Errorf("field traceparent: %q is not a W3C trace-context value", e.TraceParent)
	}
	if e.DataSchema == "" {
		return fmt.Errorf("field dataschema: required")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("field data: required")
	}
	return nil
}

// ParseEnvelope decodes an envelope from raw JSON. It only guarantees the JSON
// was well-formed; callers validate with the Validator for the expected type.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	return &e, nil
}
