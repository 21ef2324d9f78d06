package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one line of the chat log shown next to the session.
type Entry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps a bounded, expiring chat log per session in Redis lists.
type Store struct {
	client      *redis.Client
	maxMessages int
	ttl         time.Duration
}

// NewStore creates a chat log store that keeps at most maxMessages entries per session.
func NewStore(client *redis.Client, maxMessages int, ttl time.Duration) *Store {
	return &Store{client: client, maxMessages: maxMessages, ttl: ttl}
}

func chatKey(sessionID string) string {
	return fmt.Sprintf("chat:%s", sessionID)
}

// Append adds an entry to the session's log and trims it to maxMessages.
func (s *Store) Append(ctx context.Context, sessionID string, entry Entry) error {
	key := chatKey(sessionID)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, int64(-s.maxMessages), -1)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Recent returns the last `limit` entries, oldest first. A non-positive limit returns the whole log.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	key := chatKey(sessionID)

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	vals, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var entry Entry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear deletes the session's chat log.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, chatKey(sessionID)).Err()
}
