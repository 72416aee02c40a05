package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/layer-3/otpgate/adapters/store"
	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
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

// backend is a challenge store plus a way to move its clock forward
type backend struct {
	store   ports.ChallengeStore
	clock   *fakeClock
	advance func(time.Duration)
}

func backends() map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			clock := newFakeClock()
			return backend{
				store:   store.NewMemoryStore(store.WithClock(clock.Now)),
				clock:   clock,
				advance: clock.Advance,
			}
		},
		"redis": func(t *testing.T) backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })

			clock := newFakeClock()
			return backend{
				store: store.NewRedisStore(client, "test:"),
				clock: clock,
				advance: func(d time.Duration) {
					clock.Advance(d)
					mr.FastForward(d)
				},
			}
		},
	}
}

type sentMessage struct {
	identity string
	template string
	data     map[string]any
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *captureNotifier) Send(ctx context.Context, identity, template string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{identity: identity, template: template, data: data})
	return n.err
}

func (n *captureNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "nothing was sent")
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	code, ok := n.last(t).data["otp"].(string)
	require.True(t, ok, "message carries no otp")
	return code
}

type capturePublisher struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, event core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *capturePublisher) types() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errDeliveryFailed = errors.New("smtp relay refused message")

func newTestChallengeService(b backend, notifier ports.Notifier, opts Options) *ChallengeService {
	if opts.Now == nil {
		opts.Now = b.clock.Now
	}
	policy := DefaultPolicy()
	limiter := NewRateLimiter(b.store, policy, opts)
	return NewChallengeService(b.store, limiter, notifier, policy, opts)
}
