package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber delivers snapshot events for one account as they are published.
type Subscriber interface {
	// SubscribeSnapshots calls fn for every new snapshot of address until ctx is done
	// or the returned stop func is called.
	SubscribeSnapshots(ctx context.Context, address string, fn func(*SnapshotEvent)) (stop func(), err error)

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamSubscriber reads snapshot events through ephemeral JetStream consumers.
type JetStreamSubscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS for consuming snapshot events.
func NewSubscriber(natsURL string, logger *slog.Logger) (*JetStreamSubscriber, error) {
	nc, js, err := connect(natsURL, "aptoswatch-subscriber")
	if err != nil {
		return nil, err
	}

	logger.Info("NATS subscriber initialized", "url", natsURL)

	return &JetStreamSubscriber{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// SubscribeSnapshots creates an ephemeral consumer that only delivers messages
// published after it was created.
func (s *JetStreamSubscriber) SubscribeSnapshots(ctx context.Context, address string, fn func(*SnapshotEvent)) (func(), error) {
	subject := Subject(address)

	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", subject, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event SnapshotEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.Warn("failed to unmarshal snapshot event",
				"subject", msg.Subject(),
				"error", err,
			)
			_ = msg.Ack()
			return
		}
		fn(&event)
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", subject, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cc.Stop()
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			cc.Stop()
		})
	}, nil
}

// Close closes the connection to NATS.
func (s *JetStreamSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
