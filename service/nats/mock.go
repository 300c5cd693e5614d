package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher and Subscriber for testing.
// Published events are recorded and fanned out to live subscriptions on the same subject.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*SnapshotEvent
	publishError    error
	subscribeError  error
	subs            map[int]mockSub
	nextID          int
	closed          bool
}

type mockSub struct {
	subject string
	fn      func(*SnapshotEvent)
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*SnapshotEvent, 0),
		subs:            make(map[int]mockSub),
	}
}

// PublishSnapshot records the event, delivers it to subscribers and returns any configured error.
func (m *MockPublisher) PublishSnapshot(ctx context.Context, event *SnapshotEvent) error {
	m.mu.Lock()
	if m.publishError != nil {
		err := m.publishError
		m.mu.Unlock()
		return err
	}
	m.publishedEvents = append(m.publishedEvents, event)

	subject := Subject(event.Address)
	var targets []func(*SnapshotEvent)
	for _, s := range m.subs {
		if s.subject == subject {
			targets = append(targets, s.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range targets {
		fn(event)
	}
	return nil
}

// SubscribeSnapshots registers fn until ctx is done or stop is called.
func (m *MockPublisher) SubscribeSnapshots(ctx context.Context, address string, fn func(*SnapshotEvent)) (func(), error) {
	m.mu.Lock()
	if m.subscribeError != nil {
		err := m.subscribeError
		m.mu.Unlock()
		return nil, err
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = mockSub{subject: Subject(address), fn: fn}
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*SnapshotEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*SnapshotEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// SubscriberCount returns the number of live subscriptions.
func (m *MockPublisher) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// SetPublishError configures the mock to return an error on PublishSnapshot.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetSubscribeError configures the mock to return an error on SubscribeSnapshots.
func (m *MockPublisher) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
