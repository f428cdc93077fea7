package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

const (
	redisTokenPrefix  = "activation:"
	redisClientPrefix = "activation:client:"
)

// Redis stores each token as a JSON value under activation:<hash> with a TTL
// matching its expiry, and indexes hashes per client in a set.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client), nil
}

func tokenKey(hash string) string      { return redisTokenPrefix + hash }
func clientKey(clientID string) string { return redisClientPrefix + clientID }

func (r *Redis) Put(ctx context.Context, tok activation.Token) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token %s: %w", short(tok.Hash), ErrExpired)
	}
	body, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(tok.Hash), body, ttl)
		pipe.SAdd(ctx, clientKey(tok.ClientID), tok.Hash)
		return nil
	})
	return err
}

func (r *Redis) Get(ctx context.Context, hash string) (activation.Token, error) {
	body, err := r.client.Get(ctx, tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return activation.Token{}, notFound(hash)
	}
	if err != nil {
		return activation.Token{}, err
	}
	var tok activation.Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return activation.Token{}, fmt.Errorf("decode token %s: %w", short(hash), err)
	}
	return tok, nil
}

// MarkUsed rewrites the token under WATCH so a concurrent claim aborts the
// transaction. SET XX KEEPTTL never recreates a key that expired meanwhile.
func (r *Redis) MarkUsed(ctx context.Context, hash string) error {
	key := tokenKey(hash)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(hash)
		}
		if err != nil {
			return err
		}
		var tok activation.Token
		if err := json.Unmarshal(body, &tok); err != nil {
			return fmt.Errorf("decode token %s: %w", short(hash), err)
		}
		if tok.Used {
			return alreadyUsed(hash)
		}
		tok.Used = true
		if body, err = json.Marshal(tok); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, body, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return alreadyUsed(hash)
	case errors.Is(err, redis.Nil):
		return notFound(hash)
	}
	return err
}

func (r *Redis) Delete(ctx context.Context, hash string) error {
	tok, err := r.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(hash))
		pipe.SRem(ctx, clientKey(tok.ClientID), hash)
		return nil
	})
	return err
}

func (r *Redis) DeleteByClient(ctx context.Context, clientID string) (int, error) {
	hashes, err := r.client.SMembers(ctx, clientKey(clientID)).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, tokenKey(hash))
	}
	var removed int64
	if len(keys) > 0 {
		removed, err = r.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
	}
	if err := r.client.Del(ctx, clientKey(clientID)).Err(); err != nil {
		return int(removed), err
	}
	return int(removed), nil
}

// PurgeExpired relies on Redis key expiry for the tokens themselves and only
// drops dangling hashes from the per-client index sets.
func (r *Redis) PurgeExpired(ctx context.Context, _ time.Time) (int, error) {
	purged := 0
	iter := r.client.Scan(ctx, 0, redisClientPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		hashes, err := r.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return purged, err
		}
		for _, hash := range hashes {
			exists, err := r.client.Exists(ctx, tokenKey(hash)).Result()
			if err != nil {
				return purged, err
			}
			if exists == 0 {
				if err := r.client.SRem(ctx, setKey, hash).Err(); err != nil {
					return purged, err
				}
				purged++
			}
		}
	}
	return purged, iter.Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
