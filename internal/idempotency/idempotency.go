// Package idempotency remembers the response to a keyed request in Redis so a
// client retry replays it instead of running the operation twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a completed response is replayed.
	DefaultTTL = 24 * time.Hour

	// DefaultLockTTL bounds how long an unfinished reservation blocks retries
	// if the process dies mid-request.
	DefaultLockTTL = 2 * time.Minute

	statePending = "pending"
	stateDone    = "done"
)

var (
	// ErrInProgress means another request holding the same key has not
	// finished yet.
	ErrInProgress = &domain.Error{Code: domain.ECONFLICT, Message: "A request with this Idempotency-Key is still being processed"}

	// ErrKeyReused means the key was first used with a different request body.
	ErrKeyReused = &domain.Error{Code: domain.ECONFLICT, Message: "Idempotency-Key was already used for a different request"}
)

// Response is a stored HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type entry struct {
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	Response    *Response `json:"response,omitempty"`
}

// Store keeps idempotency entries in Redis.
type Store struct {
	client  redis.UniversalClient
	ttl     time.Duration
	lockTTL time.Duration
}

// NewStore creates a store. Zero durations take the defaults.
func NewStore(client redis.UniversalClient, ttl, lockTTL time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Store{client: client, ttl: ttl, lockTTL: lockTTL}
}

// Begin reserves key for the caller. It returns (nil, nil) when the caller
// owns the key and must run the operation, the stored response when one
// exists, ErrInProgress while another holder is running, and ErrKeyReused
// when fingerprint differs from the first use.
func (s *Store) Begin(ctx context.Context, tenantID uuid.UUID, key, fingerprint string) (*Response, error) {
	const op = "idempotency.begin"

	rk := redisKey(tenantID, key)
	pending, err := json.Marshal(entry{State: statePending, Fingerprint: fingerprint})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode reservation")
	}
	ok, err := s.client.SetNX(ctx, rk, pending, s.lockTTL).Result()
	if err != nil {
		return nil, domain.Internal(err, op, "failed to reserve idempotency key")
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the next retry reserves it.
		return nil, domain.WithOp(ErrInProgress, op)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read idempotency key")
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, domain.Internal(err, op, "corrupt idempotency entry")
	}
	if e.Fingerprint != fingerprint {
		return nil, domain.WithOp(ErrKeyReused, op)
	}
	if e.State != stateDone || e.Response == nil {
		return nil, domain.WithOp(ErrInProgress, op)
	}
	return e.Response, nil
}

// Complete stores resp for replay.
func (s *Store) Complete(ctx context.Context, tenantID uuid.UUID, key, fingerprint string, resp Response) error {
	raw, err := json.Marshal(entry{State: stateDone, Fingerprint: fingerprint, Response: &resp})
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(tenantID, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation so the client may retry with the same key.
func (s *Store) Release(ctx context.Context, tenantID uuid.UUID, key string) error {
	if err := s.client.Del(ctx, redisKey(tenantID, key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func redisKey(tenantID uuid.UUID, key string) string {
	return fmt.Sprintf("idem:%s:%s", tenantID, key)
}
