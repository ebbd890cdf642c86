package redisstore

import (
	"context"

	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/sessions"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash the session group is stored under.
const DefaultKey = "order101:console:session"

var _ sessions.Repo = (*Store)(nil)

// Store keeps the session as one Redis hash, so several console processes
// can share a durable login.
type Store struct {
	rdb redis.UniversalClient
	key string
}

func New(rdb redis.UniversalClient, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{rdb: rdb, key: key}
}

// NewFromAddr dials a single Redis node and checks it is reachable.
func NewFromAddr(ctx context.Context, addr string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "[NewFromAddr] ping %s", addr)
	}
	return New(rdb, DefaultKey), nil
}

// Save replaces the hash inside a MULTI/EXEC so no reader sees a partial group.
func (s *Store) Save(ctx context.Context, session sessions.Session) error {
	values := session.Values()
	fields := make([]any, 0, len(values)*2)
	for _, k := range sessions.Keys {
		fields = append(fields, k, values[k])
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, fields...)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "[Save] replace session hash")
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (sessions.Session, error) {
	values, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return sessions.Session{}, errors.Wrap(err, "[Load] read session hash")
	}
	if len(values) == 0 {
		return sessions.Session{}, conerrors.ErrNotFound
	}
	return sessions.FromValues(values), nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "[Clear] delete session hash")
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
