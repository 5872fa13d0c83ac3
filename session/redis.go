package session

import (
	"context"
	"encoding/json"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/m4xw311/puck/errors"
)

// ErrNotFound is returned by RedisStore.Load for unknown transcripts.
var ErrNotFound = errors.ErrTranscriptNotFound

// RedisStore keeps transcripts as JSON values with an optional TTL and a
// sorted-set index ordered by start time.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration for stored transcripts.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "puck:transcript:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(name string) string { return s.prefix + name }
func (s *RedisStore) indexKey() string       { return s.prefix + "index" }

// Save writes the transcript and indexes it.
func (s *RedisStore) Save(ctx context.Context, t *Transcript) error {
	data, err := t.marshal()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(t.Name), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(t.StartedAt.Unix()),
		Member: t.Name,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to save to redis")
	}
	return nil
}

// Load fetches a transcript by name.
func (s *RedisStore) Load(ctx context.Context, name string) (*Transcript, error) {
	val, err := s.client.Get(ctx, s.key(name)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, errors.Wrapf(ErrNotFound, "transcript %s", name)
		}
		return nil, errors.Wrapf(err, "failed to get from redis")
	}
	var t Transcript
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal transcript")
	}
	return &t, nil
}

// List returns transcript names, oldest first. Entries whose value expired
// are dropped from the index on the way.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list transcripts")
	}
	live := names[:0]
	for _, name := range names {
		n, err := s.client.Exists(ctx, s.key(name)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to check transcript %s", name)
		}
		if n == 0 {
			s.client.ZRem(ctx, s.indexKey(), name)
			continue
		}
		live = append(live, name)
	}
	return live, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
