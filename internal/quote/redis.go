package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"extract_gateway/internal/models"
)

const quoteKeyPrefix = "quote:"

// RedisStore persists in-flight quotes in Redis so they survive restarts
// and can be shared across gateway replicas. Each quote is stored as JSON
// under quote:<id> with a TTL slightly past its logical expiry; expiry is
// still checked at read time so behavior matches the memory store exactly.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed quote store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func quoteKey(quoteID string) string {
	return quoteKeyPrefix + quoteID
}

type redisQuote struct {
	Quote     *models.Quote `json:"quote"`
	SessionID string        `json:"session_id"`
}

// Put persists a quote keyed by its id.
func (s *RedisStore) Put(ctx context.Context, q *models.Quote) error {
	payload, err := json.Marshal(redisQuote{Quote: q, SessionID: q.SessionID})
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	// Redis TTL is a backstop one minute past the logical expiry; the
	// logical expiry check at read time is authoritative.
	ttl := time.Until(q.ExpiresAt) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := s.client.Set(ctx, quoteKey(q.QuoteID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store quote: %w", err)
	}
	return nil
}

// Get returns a live quote, checking logical expiry at read time.
func (s *RedisStore) Get(ctx context.Context, quoteID string) (*models.Quote, error) {
	payload, err := s.client.Get(ctx, quoteKey(quoteID)).Bytes()
	if err == redis.Nil {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}

	var stored redisQuote
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}

	q := stored.Quote
	q.SessionID = stored.SessionID
	if q.Expired(time.Now()) {
		return nil, ErrQuoteNotFound
	}
	return q, nil
}

// Delete removes a quote; absent ids are a no-op.
func (s *RedisStore) Delete(ctx context.Context, quoteID string) error {
	return s.client.Del(ctx, quoteKey(quoteID)).Err()
}

// DeleteExpired scans all stored quotes and removes those expired as of the
// passed timestamp. SCAN keeps the sweep incremental so it never stalls
// request-serving commands.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	var cursor uint64
	var removed []string

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, quoteKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan quotes: %w", err)
		}

		for _, key := range keys {
			payload, err := s.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("failed to read quote %s: %w", key, err)
			}

			var stored redisQuote
			if err := json.Unmarshal(payload, &stored); err != nil {
				// Unreadable payloads are dead weight either way.
				if s.client.Del(ctx, key).Err() == nil {
					removed = append(removed, strings.TrimPrefix(key, quoteKeyPrefix))
				}
				continue
			}

			if stored.Quote.Expired(now) {
				if err := s.client.Del(ctx, key).Err(); err == nil {
					removed = append(removed, stored.Quote.QuoteID)
				}
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

// Len reports the number of stored quote keys.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, quoteKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan quotes: %w", err)
		}
		count += len(keys)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
