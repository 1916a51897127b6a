package dispatch

import (
	"context"
	"sync"

	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/services/events"
)

// MockPublisher is a mock implementation of Publisher for testing
type MockPublisher struct {
	PublishUtteranceFunc func(ctx context.Context, data events.UtteranceData) (events.Event, error)

	mu sync.Mutex
	// Track calls for testing
	PublishUtteranceCalls []events.UtteranceData
}

func (m *MockPublisher) PublishUtterance(ctx context.Context, data events.UtteranceData) (events.Event, error) {
	m.mu.Lock()
	m.PublishUtteranceCalls = append(m.PublishUtteranceCalls, data)
	m.mu.Unlock()

	if m.PublishUtteranceFunc != nil {
		return m.PublishUtteranceFunc(ctx, data)
	}
	return events.Event{Type: events.EventTypeUtteranceDisplayed, Utterance: &data}, nil
}

// Calls returns a copy of the tracked publishes.
func (m *MockPublisher) Calls() []events.UtteranceData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.UtteranceData(nil), m.PublishUtteranceCalls...)
}

// MockTextLog is a mock implementation of TextLog for testing
type MockTextLog struct {
	AppendFunc func(ctx context.Context, e chatlog.Entry) error

	mu sync.Mutex
	// Track calls for testing
	AppendCalls []chatlog.Entry
}

func (m *MockTextLog) Append(ctx context.Context, e chatlog.Entry) error {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, e)
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	return nil
}

// Calls returns a copy of the tracked appends.
func (m *MockTextLog) Calls() []chatlog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chatlog.Entry(nil), m.AppendCalls...)
}
