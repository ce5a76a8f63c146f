package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// Fingerprint computes the (tenant, entity_set) key spec §4.10's invariant
// serializes on: at most one column chain in-flight per fingerprint at a
// time. Entity IDs are sorted before hashing so the fingerprint is
// independent of request ordering.
func Fingerprint(tenantID string, entityIDs []string) string {
	sorted := append([]string(nil), entityIDs...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(tenantID))
	for _, id := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Locker implements the single-flight serialization per (tenant, entity_set)
// fingerprint via a Redis SETNX lock, grounded on the teacher's Redis key
// namespacing conventions (orchestration/redis_task_queue.go,
// redis_llm_debug_store.go).
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const DefaultLockTTL = 10 * time.Minute

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, prefix: "enrichment:orchestrator:lock:", ttl: DefaultLockTTL}
}

// Acquire attempts to take the chain lock for fingerprint. ok=false means
// another chain for the same (tenant, entity_set) is already in-flight.
func (l *Locker) Acquire(ctx context.Context, fingerprint string) (ok bool, err error) {
	key := l.prefix + fingerprint
	ok, err = l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire orchestrator lock: %w", err)
	}
	return ok, nil
}

// Release frees the chain lock, to be called when the chain completes or
// fails.
func (l *Locker) Release(ctx context.Context, fingerprint string) error {
	key := l.prefix + fingerprint
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release orchestrator lock: %w", err)
	}
	return nil
}
