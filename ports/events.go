package ports

import (
	"context"

	"github.com/layer-3/otpgate/core"
)

// EventPublisher publishes verification and session events to other services
type EventPublisher interface {
	Publish(ctx context.Context, event core.Event) error
}

// Notifier delivers an OTP out of band
type Notifier interface {
	Send(ctx context.Context, identity, template string, data map[string]any) error
}
