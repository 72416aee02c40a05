package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/otpgate/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T) (ports.ChallengeStore, func(time.Duration))

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("get set and expiry", func(t *testing.T) {
		s, advance := newStore(t)

		_, err := s.Get(ctx, "otp:a@b.c")
		require.ErrorIs(t, err, ports.ErrNotFound)

		require.NoError(t, s.SetWithTTL(ctx, "otp:a@b.c", "123456", 5*time.Minute))
		v, err := s.Get(ctx, "otp:a@b.c")
		require.NoError(t, err)
		assert.Equal(t, "123456", v)

		ttl, err := s.TTL(ctx, "otp:a@b.c")
		require.NoError(t, err)
		assert.InDelta(t, (5 * time.Minute).Seconds(), ttl.Seconds(), 1)

		advance(5*time.Minute + time.Second)
		_, err = s.Get(ctx, "otp:a@b.c")
		assert.ErrorIs(t, err, ports.ErrNotFound)
		_, err = s.TTL(ctx, "otp:a@b.c")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("set if absent", func(t *testing.T) {
		s, advance := newStore(t)

		ok, err := s.SetIfAbsent(ctx, "otp_cooldown:x", "true", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetIfAbsent(ctx, "otp_cooldown:x", "true", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		advance(time.Minute + time.Second)
		ok, err = s.SetIfAbsent(ctx, "otp_cooldown:x", "true", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete ignores missing keys", func(t *testing.T) {
		s, _ := newStore(t)

		require.NoError(t, s.SetWithTTL(ctx, "k1", "v", time.Minute))
		require.NoError(t, s.Delete(ctx, "k1", "k2"))
		_, err := s.Get(ctx, "k1")
		assert.ErrorIs(t, err, ports.ErrNotFound)
		require.NoError(t, s.Delete(ctx))
	})

	t.Run("increment locks at limit and resets", func(t *testing.T) {
		s, _ := newStore(t)
		counter := ports.Counter{
			Key:         "otp_failed_attempts:x",
			TTL:         30 * time.Minute,
			LockKey:     "otp_lock:x",
			LockTTL:     30 * time.Minute,
			Limit:       2,
			ResetOnLock: true,
		}

		res, err := s.Increment(ctx, counter)
		require.NoError(t, err)
		assert.Equal(t, ports.CounterResult{Count: 1}, res)

		res, err = s.Increment(ctx, counter)
		require.NoError(t, err)
		assert.Equal(t, ports.CounterResult{Count: 2, Locked: true}, res)

		_, err = s.Get(ctx, counter.Key)
		assert.ErrorIs(t, err, ports.ErrNotFound, "counter is reset once the lock is set")

		res, err = s.Increment(ctx, counter)
		require.NoError(t, err)
		assert.Equal(t, ports.CounterResult{AlreadyLocked: true}, res)
	})

	t.Run("increment keeps counter without reset", func(t *testing.T) {
		s, advance := newStore(t)
		counter := ports.Counter{
			Key:     "otp_request_count:x",
			TTL:     time.Hour,
			LockKey: "otp_spam_lock:x",
			LockTTL: time.Hour,
			Limit:   2,
		}

		_, err := s.Increment(ctx, counter)
		require.NoError(t, err)
		res, err := s.Increment(ctx, counter)
		require.NoError(t, err)
		assert.True(t, res.Locked)

		v, err := s.Get(ctx, counter.Key)
		require.NoError(t, err)
		assert.Equal(t, "2", v)

		advance(time.Hour + time.Second)
		res, err = s.Increment(ctx, counter)
		require.NoError(t, err)
		assert.Equal(t, ports.CounterResult{Count: 1}, res)
	})

	t.Run("counter ttl is not extended by increments", func(t *testing.T) {
		s, advance := newStore(t)
		counter := ports.Counter{Key: "c", TTL: time.Minute}

		_, err := s.Increment(ctx, counter)
		require.NoError(t, err)
		advance(40 * time.Second)
		_, err = s.Increment(ctx, counter)
		require.NoError(t, err)
		advance(21 * time.Second)

		_, err = s.Get(ctx, "c")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("sliding counter ttl restarts on every increment", func(t *testing.T) {
		s, advance := newStore(t)
		counter := ports.Counter{Key: "c", TTL: time.Minute, SlidingTTL: true}

		_, err := s.Increment(ctx, counter)
		require.NoError(t, err)
		advance(40 * time.Second)
		_, err = s.Increment(ctx, counter)
		require.NoError(t, err)
		advance(40 * time.Second)

		v, err := s.Get(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, "2", v)

		advance(21 * time.Second)
		_, err = s.Get(ctx, "c")
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("concurrent increments are counted once each", func(t *testing.T) {
		s, _ := newStore(t)
		counter := ports.Counter{Key: "n", TTL: time.Minute}

		const workers = 20
		var wg sync.WaitGroup
		seen := make(chan int64, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Increment(ctx, counter)
				assert.NoError(t, err)
				seen <- res.Count
			}()
		}
		wg.Wait()
		close(seen)

		counts := map[int64]bool{}
		for c := range seen {
			assert.False(t, counts[c], "count %d returned twice", c)
			counts[c] = true
		}
		assert.Len(t, counts, workers)
	})

	t.Run("consume", func(t *testing.T) {
		s, _ := newStore(t)
		req := ports.ConsumeRequest{
			Key:      "otp:x",
			Value:    "111111",
			GuardKey: "otp_lock:x",
			Clear:    []string{"otp_failed_attempts:x", "otp_cooldown:x"},
		}

		res, err := s.Consume(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ports.ConsumeMissing, res)

		require.NoError(t, s.SetWithTTL(ctx, "otp:x", "222222", time.Minute))
		require.NoError(t, s.SetWithTTL(ctx, "otp_failed_attempts:x", "1", time.Minute))
		require.NoError(t, s.SetWithTTL(ctx, "otp_cooldown:x", "true", time.Minute))

		res, err = s.Consume(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ports.ConsumeMismatch, res)

		req.Value = "222222"
		res, err = s.Consume(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ports.ConsumeMatched, res)

		for _, k := range []string{"otp:x", "otp_failed_attempts:x", "otp_cooldown:x"} {
			_, err := s.Get(ctx, k)
			assert.ErrorIs(t, err, ports.ErrNotFound, k)
		}

		res, err = s.Consume(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ports.ConsumeMissing, res)
	})

	t.Run("consume is guarded by lock", func(t *testing.T) {
		s, _ := newStore(t)

		require.NoError(t, s.SetWithTTL(ctx, "otp:x", "222222", time.Minute))
		require.NoError(t, s.SetWithTTL(ctx, "otp_lock:x", "1", time.Minute))

		res, err := s.Consume(ctx, ports.ConsumeRequest{Key: "otp:x", Value: "222222", GuardKey: "otp_lock:x"})
		require.NoError(t, err)
		assert.Equal(t, ports.ConsumeGuarded, res)

		v, err := s.Get(ctx, "otp:x")
		require.NoError(t, err)
		assert.Equal(t, "222222", v)
	})

	t.Run("concurrent consume matches once", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.SetWithTTL(ctx, "otp:y", "333333", time.Minute))

		const workers = 10
		var wg sync.WaitGroup
		results := make(chan ports.ConsumeResult, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Consume(ctx, ports.ConsumeRequest{Key: "otp:y", Value: "333333"})
				assert.NoError(t, err)
				results <- res
			}()
		}
		wg.Wait()
		close(results)

		matched := 0
		for r := range results {
			if r == ports.ConsumeMatched {
				matched++
			}
		}
		assert.Equal(t, 1, matched)
	})
}
