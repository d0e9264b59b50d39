package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kontexa/kontexa/engine/core"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/tenant"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	redisEntryKeyPrefix = "kb:entry:"
	redisIndexKeyPrefix = "kb:idx:"
	redisRetryBase      = 50 * time.Millisecond
	redisMaxRetries     = 2
)

// RedisStore persists entries as JSON values with a set index per
// (owner key, scope). Transient failures are retried with fibonacci backoff;
// retries live here because they are the store's responsibility, never the
// engine's.
//
// The index is probed with the owner-key variants as given, without the
// normalized-stored-key matching the memory and postgres stores apply. Every
// write here indexes under the normalized key, so un-normalized index rows
// only exist if the keyspace was seeded by an external writer.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)
var _ Writer = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("store: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func redisEntryKey(id core.ID) string {
	return redisEntryKeyPrefix + id.String()
}

func redisIndexKey(ownerKey string, scope knowledge.Scope) string {
	return fmt.Sprintf("%s%s:%s", redisIndexKeyPrefix, scope, ownerKey)
}

// Put inserts or replaces an entry under its normalized owner key.
func (s *RedisStore) Put(ctx context.Context, entry knowledge.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	key, err := tenant.Normalize(entry.OwnerKey)
	if err != nil {
		return err
	}
	entry.OwnerKey = string(key)
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: failed to encode entry %q: %w", entry.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisEntryKey(entry.ID), payload, 0)
	pipe.SAdd(ctx, redisIndexKey(entry.OwnerKey, entry.Scope), entry.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedisErr("put", err)
	}
	return nil
}

// Deactivate soft-deletes an entry, keeping it for audit history.
func (s *RedisStore) Deactivate(ctx context.Context, id core.ID) error {
	raw, err := s.client.Get(ctx, redisEntryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("store: entry not found: %s", id)
	}
	if err != nil {
		return wrapRedisErr("deactivate", err)
	}
	var entry knowledge.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return fmt.Errorf("store: failed to decode entry %q: %w", id, err)
	}
	entry.IsActive = false
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: failed to encode entry %q: %w", id, err)
	}
	if err := s.client.Set(ctx, redisEntryKey(id), payload, 0).Err(); err != nil {
		return wrapRedisErr("deactivate", err)
	}
	return nil
}

// Find loads active entries for every owner-key variant, newest first.
func (s *RedisStore) Find(ctx context.Context, q Query) ([]knowledge.Entry, error) {
	if err := validateQuery(&q); err != nil {
		return nil, err
	}
	var out []knowledge.Entry
	backoff := retry.WithMaxRetries(redisMaxRetries, retry.NewFibonacci(redisRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		entries, err := s.findOnce(ctx, &q)
		if err != nil {
			return retry.RetryableError(err)
		}
		out = entries
		return nil
	})
	if err != nil {
		return nil, wrapRedisErr("find", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RedisStore) findOnce(ctx context.Context, q *Query) ([]knowledge.Entry, error) {
	ids := make(map[string]struct{})
	for _, key := range q.OwnerKeys {
		members, err := s.client.SMembers(ctx, redisIndexKey(string(key), q.Scope)).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, redisEntryKeyPrefix+id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var out []knowledge.Entry
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Index points at a missing entry key; treat as a stale index row.
			continue
		}
		var entry knowledge.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode stored entry: %w", err)
		}
		if !entry.IsActive {
			continue
		}
		if !matchesScope(&entry, q) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func wrapRedisErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: redis %s: %v", knowledge.ErrStoreUnavailable, op, err)
}
