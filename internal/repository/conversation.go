package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

const defaultConversationPrefix = "agentkb:session:"

// RedisConversationStore keeps each session as a capped Redis list of
// JSON-encoded turns. The list expires after ttl of inactivity.
type RedisConversationStore struct {
	client   redis.UniversalClient
	prefix   string
	maxTurns int
	ttl      time.Duration
}

// NewRedisConversationStore creates a store. A zero ttl keeps sessions until
// they are cleared.
func NewRedisConversationStore(client redis.UniversalClient, maxTurns int, ttl time.Duration) *RedisConversationStore {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &RedisConversationStore{
		client:   client,
		prefix:   defaultConversationPrefix,
		maxTurns: maxTurns,
		ttl:      ttl,
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisConversationStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Append pushes turn and trims the list to the newest maxTurns entries in a
// single transaction.
func (s *RedisConversationStore) Append(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.SessionID == "" {
		return domain.ErrMissingRequiredField
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	key := s.key(turn.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest turns, oldest first. n <= 0 returns all.
func (s *RedisConversationStore) Recent(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var t domain.ConversationTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear deletes a session.
func (s *RedisConversationStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
