// Package statusstore records per-item processing outcomes for the relay
// pipelines so operators can query delivery history without trawling logs.
package statusstore

import (
	"context"
	"time"
)

// Outcome is one processed unit of work.
type Outcome struct {
	// Pipeline names the processor that handled the item (download,
	// acknowledge, report-send, poll).
	Pipeline string `bigquery:"pipeline"`
	// ItemID is the queue message id or mailbox message id.
	ItemID string `bigquery:"item_id"`
	// Status is "processed" or "failed".
	Status string `bigquery:"status"`
	// Detail carries the error text for failed items, "" otherwise.
	Detail string `bigquery:"detail"`
	// OccurredAt is when the outcome was decided.
	OccurredAt time.Time `bigquery:"occurred_at"`
}

// Recorder accepts outcomes. Implementations must not block item processing
// on storage latency beyond a local buffer append.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Outcome) {}

// Nop returns a Recorder that discards outcomes, for deployments without a
// status dataset.
func Nop() Recorder { return nopRecorder{} }
