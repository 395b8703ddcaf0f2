package docstore

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog"
)

// documentPrefix is the key prefix for downloaded message bodies.
const documentPrefix = "document-reference"

// DocumentStoreConfig holds configuration for the DocumentStore.
type DocumentStoreConfig struct {
	BucketName string
}

// DocumentStore writes downloaded message bodies to object storage under a
// deterministic key and returns a locator URI for downstream events.
type DocumentStore struct {
	client GCSClient
	config DocumentStoreConfig
	logger zerolog.Logger
}

// NewDocumentStore creates a store writing to the configured bucket.
func NewDocumentStore(client GCSClient, config DocumentStoreConfig, logger zerolog.Logger) (*DocumentStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &DocumentStore{
		client: client,
		config: config,
		logger: logger.With().Str("component", "DocumentStore").Logger(),
	}, nil
}

// Store writes content under document-reference/{senderID}_{messageReference}
// and returns the gs:// locator of the stored object.
func (s *DocumentStore) Store(ctx context.Context, senderID, messageReference string, content []byte) (string, error) {
	if senderID == "" {
		return "", errors.New("sender id is required to build a document key")
	}
	objectName := path.Join(documentPrefix, fmt.Sprintf("%s_%s", senderID, messageReference))

	writer := s.client.Bucket(s.config.BucketName).Object(objectName).NewWriter(ctx)
	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write document %s: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize document %s: %w", objectName, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.config.BucketName, objectName)
	s.logger.Info().
		Str("bucket", s.config.BucketName).
		Str("object_name", objectName).
		Int("byte_count", len(content)).
		Msg("Stored message body.")
	return uri, nil
}
