package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokens stores token records as JSON under <prefix>:token:<id>, expiring with the token.
type RedisTokens struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisTokens(rdb *redis.Client, prefix string) *RedisTokens {
	return &RedisTokens{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisTokens) key(id string) string {
	if r.prefix == "" {
		return "token:" + id
	}
	return r.prefix + ":token:" + id
}

func (r *RedisTokens) CreateToken(ctx context.Context, rec TokenRecord) error {
	ttl := rec.Expires.Sub(r.now())
	if rec.Expires.IsZero() {
		ttl = 0
	} else if ttl <= 0 {
		return fmt.Errorf("create token: record already expired at %s", rec.Expires.Format(time.RFC3339))
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, r.key(rec.ID), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	if !ok {
		return ErrTokenExists
	}
	return nil
}

func (r *RedisTokens) GetToken(ctx context.Context, id string) (TokenRecord, error) {
	raw, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return TokenRecord{}, ErrTokenNotFound
	}
	if err != nil {
		return TokenRecord{}, fmt.Errorf("get token: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return TokenRecord{}, err
	}
	return rec, nil
}

func (r *RedisTokens) DeleteToken(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
