// Package compat persists learned protocol profiles in redis. Values are
// JSON blobs keyed per (provider, connection, model) triple; a companion
// sorted set ordered by update time backs capacity eviction.
package compat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis"
	compatDomain "github.com/xpanvictor/relay/internal/domains/compat"
)

const profileIndexKey = "compat:profiles:index"

func profileKey(key compatDomain.ProfileKey) string {
	return fmt.Sprintf("compat:profile:%s", key.String())
}

type RedisProfileStore struct {
	rc *redis.Client
}

func New(rc *redis.Client) *RedisProfileStore {
	return &RedisProfileStore{rc: rc}
}

// Save implements compat.ProfileStore.
func (r *RedisProfileStore) Save(_ context.Context, p *compatDomain.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", p.Key, err)
	}
	k := profileKey(p.Key)
	if err := r.rc.Set(k, data, 0).Err(); err != nil {
		return fmt.Errorf("store profile %s: %w", p.Key, err)
	}
	return r.rc.ZAdd(profileIndexKey, redis.Z{
		Member: k,
		Score:  float64(p.UpdatedAt.UnixNano()),
	}).Err()
}

// Load implements compat.ProfileStore. A missing profile is (nil, nil).
func (r *RedisProfileStore) Load(_ context.Context, key compatDomain.ProfileKey) (*compatDomain.Profile, error) {
	raw, err := r.rc.Get(profileKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p compatDomain.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", key, err)
	}
	return &p, nil
}

// Trim implements compat.ProfileStore: drop the least recently updated
// profiles beyond capacity, index entries included.
func (r *RedisProfileStore) Trim(_ context.Context, capacity int) error {
	if capacity <= 0 {
		return nil
	}
	total, err := r.rc.ZCard(profileIndexKey).Result()
	if err != nil {
		return err
	}
	excess := total - int64(capacity)
	if excess <= 0 {
		return nil
	}
	victims, err := r.rc.ZRange(profileIndexKey, 0, excess-1).Result()
	if err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}
	if err := r.rc.Del(victims...).Err(); err != nil {
		return err
	}
	members := make([]interface{}, len(victims))
	for i, v := range victims {
		members[i] = v
	}
	return r.rc.ZRem(profileIndexKey, members...).Err()
}
