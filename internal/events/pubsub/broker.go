// Package pubsub implements the event broker on Google Cloud Pub/Sub. All
// run channels share one topic; the channel name rides on a message attribute
// and each subscriber gets its own filtered subscription.
package pubsub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

const channelAttribute = "channel"

// Broker publishes and subscribes through a single Pub/Sub topic.
type Broker struct {
	Client *pubsub.Client
	Topic  *pubsub.Topic
	Logger *zap.Logger
}

// New creates a Pub/Sub client and verifies the topic exists. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Broker, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{Client: client, Topic: topic, Logger: logger}, nil
}

// Publish sends the message tagged with its channel and waits for the server
// acknowledgement so delivery failures surface to the caller.
func (b *Broker) Publish(ctx context.Context, channel string, message []byte) error {
	result := b.Topic.Publish(ctx, &pubsub.Message{
		Data:       message,
		Attributes: map[string]string{channelAttribute: channel},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to channel %q: %w", channel, err)
	}
	return nil
}

// Subscribe creates a dedicated subscription filtered to the channel and
// starts pumping its messages into a local buffer.
func (b *Broker) Subscribe(ctx context.Context, channel string) (scraper.Subscription, error) {
	subID := subscriptionID(channel)
	sub, err := b.Client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:            b.Topic,
		Filter:           fmt.Sprintf(`attributes.%s = "%s"`, channelAttribute, channel),
		ExpirationPolicy: 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription for channel %q: %w", channel, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		channel:  channel,
		sub:      sub,
		cancel:   cancel,
		messages: make(chan []byte, 64),
		logger:   b.Logger,
	}
	go s.pump(pumpCtx)
	return s, nil
}

// Close releases the client connection.
func (b *Broker) Close() error {
	b.Topic.Stop()
	if err := b.Client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// subscriptionID derives a valid Pub/Sub subscription ID from the channel.
// IDs must start with a letter and colons are not allowed.
func subscriptionID(channel string) string {
	cleaned := strings.NewReplacer(":", "-", "/", "-").Replace(channel)
	return fmt.Sprintf("sse-%s-%s", cleaned, uuid.NewString())
}

type subscription struct {
	channel  string
	sub      *pubsub.Subscription
	cancel   context.CancelFunc
	messages chan []byte
	logger   *zap.Logger
}

func (s *subscription) pump(ctx context.Context) {
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		// The server-side filter already scopes the subscription, but some
		// emulators ignore filters, so the attribute is checked again here.
		if msg.Attributes[channelAttribute] != s.channel {
			msg.Ack()
			return
		}
		select {
		case s.messages <- msg.Data:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("subscription receive loop ended",
			zap.String("channel", s.channel),
			zap.Error(err),
		)
	}
}

// Receive waits for the next message, returning scraper.ErrNoMessage when the
// timeout elapses.
func (s *subscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-timer.C:
		return nil, scraper.ErrNoMessage
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe stops the receive loop and deletes the subscription so
// abandoned streams do not accumulate server-side.
func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.cancel()
	if err := s.sub.Delete(ctx); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
