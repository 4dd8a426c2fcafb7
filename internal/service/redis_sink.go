package service

import (
	"context"
	"fmt"
	"time"

	"vault_ledger/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink publishes events to a Redis stream for downstream consumers.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Handle(ctx context.Context, evt *domain.LedgerEvent) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: streamValues(evt),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func streamValues(evt *domain.LedgerEvent) map[string]interface{} {
	return map[string]interface{}{
		"event_id":    evt.ID,
		"type":        string(evt.Type),
		"user":        evt.User.Hex(),
		"asset":       evt.Asset.Hex(),
		"amount":      evt.Amount.String(),
		"unit_value":  evt.UnitValue.String(),
		"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
	}
}

// ConnectRedis opens a client and verifies it with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  time.Second,
		ReadTimeout:  400 * time.Millisecond,
		WriteTimeout: 400 * time.Millisecond,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			_ = cn.ClientSetName(ctx, "vaultd").Err()
			return nil
		},
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}
