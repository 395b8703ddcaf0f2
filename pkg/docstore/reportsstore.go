package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ReportsStore reads generated report files from object storage by locator.
type ReportsStore struct {
	client GCSClient
	logger zerolog.Logger
}

// NewReportsStore creates a ReportsStore.
func NewReportsStore(client GCSClient, logger zerolog.Logger) (*ReportsStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	return &ReportsStore{
		client: client,
		logger: logger.With().Str("component", "ReportsStore").Logger(),
	}, nil
}

// Download fetches the report bytes for a gs://bucket/key locator.
func (s *ReportsStore) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseObjectURI(uri)
	if err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open report %s: %w", uri, err)
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", uri, err)
	}

	s.logger.Debug().Str("uri", uri).Int("byte_count", len(content)).Msg("Downloaded report.")
	return content, nil
}

// parseObjectURI splits a gs://bucket/key locator into bucket and key.
func parseObjectURI(uri string) (bucket, key string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid object locator %q: %w", uri, err)
	}
	if parsed.Scheme != "gs" || parsed.Host == "" {
		return "", "", fmt.Errorf("invalid object locator %q: expected gs://bucket/key", uri)
	}
	key = strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid object locator %q: missing object key", uri)
	}
	return parsed.Host, key, nil
}
