// Package pubsub implements a Google Cloud Pub/Sub page event publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/docharvest/docharvest/internal/scraper"
	"google.golang.org/api/option"
)

// Config captures the parameters required to connect to Pub/Sub.
type Config struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	Topic     string `mapstructure:"topic" yaml:"topic"`
}

// Publisher publishes page events as JSON messages to Pub/Sub topics.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher around an existing Pub/Sub client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Dial creates the Pub/Sub client itself and verifies the configured topic
// exists, so a missing topic fails at startup rather than on the first
// published page. Authentication uses Google's Application Default
// Credentials.
func Dial(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	exists, err := client.Topic(cfg.Topic).Exists(ctx)
	if err != nil {
		closeErr := client.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("topic %q exists: %w (close client: %v)", cfg.Topic, err, closeErr)
		}
		return nil, fmt.Errorf("topic %q exists: %w", cfg.Topic, err)
	}
	if !exists {
		closeErr := client.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("topic %q does not exist in project %q (close client: %v)", cfg.Topic, cfg.ProjectID, closeErr)
		}
		return nil, fmt.Errorf("topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}
	return New(client)
}

// Publish marshals the event to JSON and publishes it, blocking until the
// server acknowledges the message.
func (p *Publisher) Publish(ctx context.Context, topic string, event scraper.PageEvent) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal page event: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"crawl_id": event.CrawlID},
	}
	if event.MimeType != "" {
		msg.Attributes["mime_type"] = event.MimeType
	}

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// topic returns a cached topic handle so the client can batch messages
// across calls instead of spinning up a publisher per page.
func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and closes the underlying client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
