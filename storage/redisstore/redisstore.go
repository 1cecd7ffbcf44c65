// Package redisstore keeps encoded trees in redis, one string key per tree.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/geoforge/revtree/codec"
	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"

	"github.com/redis/go-redis/v9"
)

// prefix string for all the redis keys this store uses
const DefaultPrefix = "revtree:"

// Max keys per MGET round trip
const mgetBatch = 256

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ storage.ObjectStore = (*RedisStore)(nil)

// NewRedisStore connects to the server at redisURL (eg, "redis://localhost:6379/0") and checks the connection.
func NewRedisStore(ctx context.Context, redisURL string, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis tree store: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to redis tree store: %w", err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) key(id model.ObjectId) string {
	return s.prefix + id.String()
}

func (s *RedisStore) Get(ctx context.Context, id model.ObjectId) (*model.RevTree, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	return codec.Decode(id, data)
}

func (s *RedisStore) GetAll(ctx context.Context, ids []model.ObjectId, l storage.BulkListener) ([]*model.RevTree, error) {
	l = storage.ListenerOrNop(l)
	out := make([]*model.RevTree, 0, len(ids))
	for start := 0; start < len(ids); start += mgetBatch {
		batch := ids[start:min(start+mgetBatch, len(ids))]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = s.key(id)
		}
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range vals {
			id := batch[i]
			str, ok := v.(string)
			if !ok {
				l.NotFound(id)
				continue
			}
			t, err := codec.Decode(id, []byte(str))
			if err != nil {
				return nil, fmt.Errorf("decoding tree %s: %w", id, err)
			}
			l.Found(id)
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, t *model.RevTree) (bool, error) {
	data, err := codec.Encode(t)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, s.key(t.Id()), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", t.Id(), err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, id model.ObjectId) (bool, error) {
	n, err := s.rdb.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, id model.ObjectId) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
