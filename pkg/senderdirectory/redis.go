package senderdirectory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStoreConfig holds configuration for the Redis-backed store.
type RedisStoreConfig struct {
	// KeyPrefix scopes the sender entries, e.g. "senders/".
	KeyPrefix string
	// ScanCount is the SCAN count hint per page. Defaults to 10 when
	// non-positive.
	ScanCount int
}

// RedisStore lists sender configuration values held under a key prefix, using
// the SCAN cursor as the continuation token.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	scanCount int64
	logger    zerolog.Logger
}

// NewRedisStore creates a Redis-backed SenderStore. It pings the server to
// ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisStoreConfig, client *redis.Client, logger zerolog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg.KeyPrefix == "" {
		return nil, fmt.Errorf("redis key prefix is required")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	scanCount := int64(cfg.ScanCount)
	if scanCount <= 0 {
		scanCount = 10
	}
	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		scanCount: scanCount,
		logger:    logger.With().Str("component", "RedisSenderStore").Logger(),
	}, nil
}

// ListPage implements SenderStore.
func (s *RedisStore) ListPage(ctx context.Context, pageToken string) ([]StoreEntry, string, error) {
	var cursor uint64
	if pageToken != "" {
		parsed, err := strconv.ParseUint(pageToken, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid redis page token %q: %w", pageToken, err)
		}
		cursor = parsed
	}

	keys, nextCursor, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", s.scanCount).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis sender scan failed: %w", err)
	}

	var entries []StoreEntry
	if len(keys) > 0 {
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, "", fmt.Errorf("redis mget for sender page failed: %w", err)
		}
		for i, value := range values {
			// A nil value means the key expired between SCAN and MGET.
			str, ok := value.(string)
			if !ok {
				continue
			}
			entries = append(entries, StoreEntry{Name: keys[i], Value: []byte(str)})
		}
	}

	nextToken := ""
	if nextCursor != 0 {
		nextToken = strconv.FormatUint(nextCursor, 10)
	}
	s.logger.Debug().Int("entry_count", len(entries)).Str("next_token", nextToken).Msg("Listed sender page from Redis.")
	return entries, nextToken, nil
}
