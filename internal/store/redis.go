package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/taskforce-io/taskforce/internal/config"
	"github.com/taskforce-io/taskforce/pkg/board"
)

// redisBackend stores tickets as flat key→JSON records. Redis has no
// "list by prefix with values" primitive, so a set collection tracks all
// live identifiers; logs are single string values rewritten wholesale on
// each append.
type redisBackend struct {
	rdb *redis.Client
}

const redisIDSet = "ticket-ids"

func newRedisBackend(cfg config.RedisConfig) (*redisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &redisBackend{rdb: rdb}, nil
}

func (b *redisBackend) name() string { return "redis" }

func ticketKey(id string) string { return "ticket:" + id }
func logKey(id string) string    { return "log:" + id }

func (b *redisBackend) listPartition(ctx context.Context, status board.Status) ([]*board.Ticket, error) {
	ids, err := b.rdb.SMembers(ctx, redisIDSet).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ticketKey(id)
	}
	values, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget: %w", err)
	}

	var tickets []*board.Ticket
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // id in the set but record gone, skip
		}
		var t board.Ticket
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			continue // malformed record, skip
		}
		if t.Status == status {
			tickets = append(tickets, &t)
		}
	}
	return tickets, nil
}

func (b *redisBackend) find(ctx context.Context, id string) (*record, error) {
	data, err := b.rdb.Get(ctx, ticketKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", id, err)
	}
	var t board.Ticket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("redis: parse %s: %w", id, err)
	}
	return &record{ticket: &t, status: t.Status}, nil
}

func (b *redisBackend) put(ctx context.Context, t *board.Ticket, _ *record) error {
	// The record key is status-independent; a partition move is just a
	// rewrite of the status field.
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", t.ID, err)
	}
	if err := b.rdb.Set(ctx, ticketKey(t.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", t.ID, err)
	}
	if err := b.rdb.SAdd(ctx, redisIDSet, t.ID).Err(); err != nil {
		return fmt.Errorf("redis: index %s: %w", t.ID, err)
	}
	return nil
}

func (b *redisBackend) remove(ctx context.Context, rec *record) error {
	id := rec.ticket.ID
	if err := b.rdb.Del(ctx, ticketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", id, err)
	}
	if err := b.rdb.SRem(ctx, redisIDSet, id).Err(); err != nil {
		return fmt.Errorf("redis: unindex %s: %w", id, err)
	}
	return nil
}

func (b *redisBackend) readLog(ctx context.Context, id string) (string, error) {
	text, err := b.rdb.Get(ctx, logKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get log %s: %w", id, err)
	}
	return text, nil
}

func (b *redisBackend) appendLog(ctx context.Context, id, block string) error {
	existing, err := b.readLog(ctx, id)
	if err != nil {
		return err
	}
	if err := b.rdb.Set(ctx, logKey(id), existing+block, 0).Err(); err != nil {
		return fmt.Errorf("redis: set log %s: %w", id, err)
	}
	return nil
}

func (b *redisBackend) deleteLog(ctx context.Context, id string) error {
	if err := b.rdb.Del(ctx, logKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: del log %s: %w", id, err)
	}
	return nil
}
