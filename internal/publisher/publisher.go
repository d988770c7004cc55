// Package publisher emits pipeline events (document indexed, run finished)
// to downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Topics published by the pipeline.
const (
	TopicDocumentIndexed = "document-indexed"
	TopicRunCompleted    = "run-completed"
)

// Publisher delivers one event payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) (string, error) { return "", nil }

// Memory records published events for inspection in tests.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
}

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
}

// NewMemory returns an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(m.messages)), nil
}

// Messages returns the recorded publishes.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// PubSub publishes events to Google Cloud Pub/Sub. The event topic name is
// carried as a message attribute; all events share one Pub/Sub topic.
type PubSub struct {
	topic *pubsub.Topic
}

// NewPubSub wraps an existing Pub/Sub topic handle.
func NewPubSub(topic *pubsub.Topic) (*PubSub, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &PubSub{topic: topic}, nil
}

func (p *PubSub) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": topic},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
