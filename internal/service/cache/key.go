package cache

import (
	"fmt"
	"hash/fnv"
	"time"

	"InferCore/internal/domain/models"
)

const keyPrefix = "infercore:cache"

// Key identifies a memoized fact: subject entity, analysis dimension,
// strategy and a coarse time bucket. Bucketing bounds cache cardinality and
// makes freshness part of identity, so stale buckets age out on their own.
type Key struct {
	Entity     string
	Dimension  string
	Strategy   string
	TimeBucket int64 // unix seconds rounded down to the bucket size
}

// NewKey builds a key from a prompt identity and bucket size.
func NewKey(id models.PromptIdentity, bucket time.Duration) Key {
	sec := int64(bucket / time.Second)
	if sec <= 0 {
		sec = 300
	}
	ts := id.AsOf.Unix()
	return Key{
		Entity:     id.Entity,
		Dimension:  id.Dimension,
		Strategy:   hashStrategy(id.Strategy),
		TimeBucket: (ts / sec) * sec,
	}
}

// String renders the backing-store key.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", keyPrefix, k.Entity, k.Dimension, k.Strategy, k.TimeBucket)
}

// Prefix returns the store-wide key prefix, used by ClearMatching("").
func Prefix() string {
	return keyPrefix
}

func hashStrategy(strategy string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strategy))
	return fmt.Sprintf("%x", h.Sum64())
}
