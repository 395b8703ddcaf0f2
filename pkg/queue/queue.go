package queue

import (
	"encoding/json"
	"fmt"
)

// ====================================================================================
// This file defines the queue trigger contract shared by all batch processors:
// a batch of records in, a list of per-item failure markers out. The invoker
// uses the failure list for selective redelivery; an item absent from the list
// must not be redelivered.
// ====================================================================================

// EventSourcePubsub marks records delivered through the Pub/Sub consumer.
const EventSourcePubsub = "google:pubsub"

// Record is one queued unit of work.
type Record struct {
	MessageID   string `json:"messageId"`
	EventSource string `json:"eventSource"`
	Body        string `json:"body"`
}

// Event is a batch of records handed to a processor in one invocation.
type Event struct {
	Records []Record `json:"Records"`
}

// BatchItemFailure marks one record as failed, keyed by its queue message id.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// Response reports the per-item failures of one invocation.
type Response struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// recordBody is the wire shape of a record body: a JSON object whose detail
// field carries the event envelope.
type recordBody struct {
	Detail json.RawMessage `json:"detail"`
}

// Detail extracts the event envelope JSON from the record body. A parseable
// body without a detail field is a validation failure.
func (r Record) Detail() (json.RawMessage, error) {
	var body recordBody
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		return nil, fmt.Errorf("failed to parse record body as JSON: %w", err)
	}
	if len(body.Detail) == 0 || string(body.Detail) == "null" {
		return nil, fmt.Errorf("record body has no detail field")
	}
	return body.Detail, nil
}
