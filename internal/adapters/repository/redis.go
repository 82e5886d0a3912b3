package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/okian/draftd/internal/domain/draft"
)

// RedisRepository keeps each session as a JSON string plus three indexes:
// a set of active ids, a per-arena sorted set by creation time and a sorted
// set of archived ids by finish time.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository wraps an existing client.
func NewRedisRepository(client *redis.Client, opts ...RedisOption) *RedisRepository {
	r := &RedisRepository{client: client, prefix: "draftd"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping redis")
	}
	return NewRedisRepository(client, opts...), nil
}

func (r *RedisRepository) sessionKey(id string) string { return r.prefix + ":session:" + id }
func (r *RedisRepository) activeKey() string          { return r.prefix + ":active" }
func (r *RedisRepository) archivedKey() string        { return r.prefix + ":archived" }
func (r *RedisRepository) arenaKey(arena string) string {
	return r.prefix + ":arena:" + arena
}

func (r *RedisRepository) Save(ctx context.Context, s *draft.Session) error {
	return r.put(ctx, s)
}

func (r *RedisRepository) Update(ctx context.Context, s *draft.Session) error {
	return r.put(ctx, s)
}

func (r *RedisRepository) put(ctx context.Context, s *draft.Session) error {
	if s == nil || s.ID == "" {
		return errors.Wrap(ErrInvalid, "missing id")
	}
	data, err := encode(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(s.ID), data, 0)
		pipe.ZAdd(ctx, r.arenaKey(s.ArenaID), redis.Z{Score: float64(toMillis(s.CreatedAt)), Member: s.ID})
		if s.Status.Terminal() {
			pipe.SRem(ctx, r.activeKey(), s.ID)
			pipe.ZAdd(ctx, r.archivedKey(), redis.Z{Score: float64(toMillis(archivedAt(s))), Member: s.ID})
		} else {
			pipe.SAdd(ctx, r.activeKey(), s.ID)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save session %s", s.ID)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load session %s", id)
	}
	s, err := decode(data)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(id))
		pipe.SRem(ctx, r.activeKey(), id)
		pipe.ZRem(ctx, r.archivedKey(), id)
		pipe.ZRem(ctx, r.arenaKey(s.ArenaID), id)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to delete session %s", id)
	}
	return nil
}

func (r *RedisRepository) FindActive(ctx context.Context) ([]*draft.Session, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active sessions")
	}
	sessions, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	newestFirst(sessions)
	return sessions, nil
}

func (r *RedisRepository) FindByArena(ctx context.Context, arenaID string) ([]*draft.Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.arenaKey(arenaID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list sessions of arena %s", arenaID)
	}
	return r.load(ctx, ids)
}

func (r *RedisRepository) ListArchivedBefore(ctx context.Context, t time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.archivedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(toMillis(t), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archived sessions")
	}
	return ids, nil
}

// load fetches sessions by id, skipping ids whose document is gone.
func (r *RedisRepository) load(ctx context.Context, ids []string) ([]*draft.Session, error) {
	out := make([]*draft.Session, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sessions")
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		s, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Close closes the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
