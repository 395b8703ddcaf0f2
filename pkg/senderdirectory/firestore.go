package senderdirectory

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStoreConfig holds configuration for the Firestore-backed store.
type FirestoreStoreConfig struct {
	// CollectionName is the collection holding one document per sender.
	CollectionName string
	// PageSize bounds one listing page. Defaults to 10 when non-positive,
	// matching the page size of the original parameter store.
	PageSize int
}

// FirestoreStore lists sender configuration documents page by page, using the
// document id as the continuation cursor.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	pageSize       int
	logger         zerolog.Logger
}

// NewFirestoreStore creates a Firestore-backed SenderStore.
func NewFirestoreStore(cfg *FirestoreStoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		pageSize:       pageSize,
		logger:         logger.With().Str("component", "FirestoreSenderStore").Logger(),
	}, nil
}

// ListPage implements SenderStore.
func (s *FirestoreStore) ListPage(ctx context.Context, pageToken string) ([]StoreEntry, string, error) {
	query := s.client.Collection(s.collectionName).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(s.pageSize)
	if pageToken != "" {
		query = query.StartAfter(pageToken)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []StoreEntry
	lastID := ""
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, "", fmt.Errorf("sender collection %s not found: %w", s.collectionName, err)
			}
			return nil, "", fmt.Errorf("firestore sender listing failed: %w", err)
		}
		value, err := json.Marshal(doc.Data())
		if err != nil {
			// Surfaced as a malformed entry; the directory logs and skips it.
			value = nil
		}
		entries = append(entries, StoreEntry{Name: doc.Ref.ID, Value: value})
		lastID = doc.Ref.ID
	}

	nextToken := ""
	if len(entries) == s.pageSize {
		nextToken = lastID
	}
	s.logger.Debug().Int("entry_count", len(entries)).Str("next_token", nextToken).Msg("Listed sender page from Firestore.")
	return entries, nextToken, nil
}
