package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"calgrid/internal/interval"
)

// Redis is a DayCache shared between calgrid instances. Each entry is a JSON
// array under "<prefix>busy:<resource>@<day>"; the set "<prefix>day:<day>"
// tracks the entry keys of a day so InvalidateDay can drop them together.
// "<prefix>gen:<day>" is the day's generation; Set watches it.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ DayCache = (*Redis)(nil)

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "calgrid:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *Redis) entryKey(k Key) string { return r.prefix + "busy:" + k.String() }
func (r *Redis) dayKey(day string) string { return r.prefix + "day:" + day }
func (r *Redis) genKey(day string) string { return r.prefix + "gen:" + day }

var errGenerationMoved = errors.New("cache: day invalidated during load")

func (r *Redis) Get(ctx context.Context, k Key) ([]interval.Interval, bool, error) {
	raw, err := r.client.Get(ctx, r.entryKey(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", k, err)
	}
	var busy []interval.Interval
	if err := json.Unmarshal(raw, &busy); err != nil {
		// a corrupt entry is a miss
		return nil, false, nil
	}
	return busy, true, nil
}

func (r *Redis) Generation(ctx context.Context, day string) (Generation, error) {
	return r.generation(ctx, r.client, day)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) generation(ctx context.Context, c getter, day string) (Generation, error) {
	v, err := c.Get(ctx, r.genKey(day)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation %s: %w", day, err)
	}
	return Generation(v), nil
}

func (r *Redis) Set(ctx context.Context, k Key, gen Generation, busy []interval.Interval) (bool, error) {
	if busy == nil {
		busy = []interval.Interval{}
	}
	raw, err := json.Marshal(busy)
	if err != nil {
		return false, err
	}
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.generation(ctx, tx, k.Day)
		if err != nil {
			return err
		}
		if cur != gen {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.entryKey(k), raw, r.ttl)
			pipe.SAdd(ctx, r.dayKey(k.Day), r.entryKey(k))
			if r.ttl > 0 {
				pipe.Expire(ctx, r.dayKey(k.Day), r.ttl)
			}
			return nil
		})
		return err
	}, r.genKey(k.Day))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errGenerationMoved), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("redis set %s: %w", k, err)
	}
}

func (r *Redis) InvalidateDay(ctx context.Context, day string) error {
	// bump first so a Set watching the old generation fails
	if err := r.client.Incr(ctx, r.genKey(day)).Err(); err != nil {
		return fmt.Errorf("redis generation %s: %w", day, err)
	}
	members, err := r.client.SMembers(ctx, r.dayKey(day)).Result()
	if err != nil {
		return fmt.Errorf("redis members %s: %w", day, err)
	}
	keys := append(members, r.dayKey(day))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis invalidate %s: %w", day, err)
	}
	return nil
}
