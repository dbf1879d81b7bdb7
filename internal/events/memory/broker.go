// Package memory provides an in-process event broker for single-binary
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

const subscriberBuffer = 64

// Broker fans published messages out to channel subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the message rather
// than blocking the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	logger *zap.Logger
}

// New returns an empty Broker.
func New(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Publish delivers the message to every current subscriber of the channel.
func (b *Broker) Publish(_ context.Context, channel string, message []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[channel] {
		select {
		case sub.messages <- message:
		default:
			b.logger.Warn("subscriber buffer full, dropping message",
				zap.String("channel", channel),
			)
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel.
func (b *Broker) Subscribe(_ context.Context, channel string) (scraper.Subscription, error) {
	sub := &subscription{
		broker:   b,
		channel:  channel,
		messages: make(chan []byte, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()
	return sub, nil
}

// SubscriberCount reports the live subscribers on a channel, for tests.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.subs[sub.channel]
	for i, s := range current {
		if s == sub {
			b.subs[sub.channel] = append(current[:i], current[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
}

type subscription struct {
	broker   *Broker
	channel  string
	messages chan []byte
}

// Receive waits for the next message. It returns scraper.ErrNoMessage when
// the timeout elapses so callers can distinguish idleness from failure.
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

// Unsubscribe detaches the subscriber. Messages published afterwards are not
// delivered; buffered ones remain readable.
func (s *subscription) Unsubscribe(_ context.Context) error {
	s.broker.remove(s)
	return nil
}
