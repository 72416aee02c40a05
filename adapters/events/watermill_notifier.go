package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// DefaultNotificationsTopic is consumed by the mail worker
const DefaultNotificationsTopic = "otpgate.notifications.email"

// EmailNotification is the message handed to the mail worker
type EmailNotification struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// WatermillNotifier implements the Notifier interface by queueing mail requests
type WatermillNotifier struct {
	publisher message.Publisher
	topic     string
	subject   string
}

// NewWatermillNotifier creates a notifier publishing to topic
func NewWatermillNotifier(publisher message.Publisher, topic string) *WatermillNotifier {
	if topic == "" {
		topic = DefaultNotificationsTopic
	}
	return &WatermillNotifier{
		publisher: publisher,
		topic:     topic,
		subject:   "Verify Your Email",
	}
}

// Send queues the templated mail; the identity is the recipient address
func (n *WatermillNotifier) Send(ctx context.Context, identity, template string, data map[string]any) error {
	payload, err := json.Marshal(EmailNotification{
		To:       identity,
		Subject:  n.subject,
		Template: template,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}
