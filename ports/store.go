package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired
var ErrNotFound = errors.New("key not found")

// Counter describes an atomic bounded increment.
// When the incremented value reaches Limit, LockKey is set for LockTTL.
type Counter struct {
	Key         string
	TTL         time.Duration // applied when the counter is created, or on every increment with SlidingTTL
	LockKey     string
	LockTTL     time.Duration
	Limit       int64
	ResetOnLock bool // delete the counter once the lock is set
	SlidingTTL  bool
}

// CounterResult is the outcome of an Increment
type CounterResult struct {
	Count         int64
	Locked        bool // this increment set the lock
	AlreadyLocked bool // the lock was present, nothing was incremented
}

// ConsumeRequest describes an atomic compare-and-delete.
// If GuardKey is present the value is not inspected.
// On a match Key and every key in Clear are deleted.
type ConsumeRequest struct {
	Key      string
	Value    string
	GuardKey string
	Clear    []string
}

// ConsumeResult is the outcome of a Consume
type ConsumeResult int

const (
	ConsumeMissing ConsumeResult = iota
	ConsumeMismatch
	ConsumeMatched
	ConsumeGuarded
)

// ChallengeStore is the shared TTL key-value store behind rate limiting and OTP state
type ChallengeStore interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL stores a value that expires after ttl
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores a value only when the key does not exist
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes keys, missing keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// TTL returns the remaining lifetime of a key
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Increment atomically bumps a counter and sets its lock when the limit is reached
	Increment(ctx context.Context, counter Counter) (CounterResult, error)

	// Consume atomically compares a stored value and deletes it on match
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
}
