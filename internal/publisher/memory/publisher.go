// Package memory contains an in-memory publisher for tests and for
// running serve mode without a message broker.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Publisher stores published page events for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic string
	Event scraper.PageEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, event scraper.PageEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Event: event})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
