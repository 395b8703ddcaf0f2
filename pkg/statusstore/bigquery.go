package statusstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BigQueryRecorderConfig holds configuration for the BigQuery recorder.
type BigQueryRecorderConfig struct {
	DatasetID string
	TableID   string
	// BatchSize is how many outcomes are buffered before a flush. Defaults
	// to 50 when non-positive.
	BatchSize int
}

// NewBigQueryClient creates a BigQuery client, using a credentials file when
// one is configured and Application Default Credentials otherwise.
func NewBigQueryClient(ctx context.Context, projectID, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryRecorder buffers outcomes and streams them into a BigQuery table in
// batches. Record never fails the caller; insert errors are logged and the
// affected rows dropped, since status history is advisory.
type BigQueryRecorder struct {
	inserter  *bigquery.Inserter
	batchSize int
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []*Outcome
}

// NewBigQueryRecorder creates a recorder streaming into the configured table.
func NewBigQueryRecorder(client *bigquery.Client, cfg *BigQueryRecorderConfig, logger zerolog.Logger) (*BigQueryRecorder, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("BigQuery dataset and table ids are required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &BigQueryRecorder{
		inserter:  client.Dataset(cfg.DatasetID).Table(cfg.TableID).Inserter(),
		batchSize: batchSize,
		logger:    logger.With().Str("component", "BigQueryStatusRecorder").Logger(),
	}, nil
}

// Record implements Recorder.
func (r *BigQueryRecorder) Record(ctx context.Context, outcome Outcome) {
	r.mu.Lock()
	r.pending = append(r.pending, &outcome)
	var flush []*Outcome
	if len(r.pending) >= r.batchSize {
		flush = r.pending
		r.pending = nil
	}
	r.mu.Unlock()

	if flush != nil {
		r.insert(ctx, flush)
	}
}

// Flush writes any buffered outcomes. Call before the invocation returns.
func (r *BigQueryRecorder) Flush(ctx context.Context) {
	r.mu.Lock()
	flush := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(flush) > 0 {
		r.insert(ctx, flush)
	}
}

func (r *BigQueryRecorder) insert(ctx context.Context, rows []*Outcome) {
	if err := r.inserter.Put(ctx, rows); err != nil {
		r.logger.Error().Err(err).Int("row_count", len(rows)).Msg("Failed to insert status rows.")
		return
	}
	r.logger.Debug().Int("row_count", len(rows)).Msg("Inserted status rows.")
}
