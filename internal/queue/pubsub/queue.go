// Package pubsub implements a Google Cloud Pub/Sub submission queue so
// the API and the crawl workers can run as separate deployments.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/docharvest/docharvest/internal/scraper"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config captures the parameters required to connect the queue.
type Config struct {
	ProjectID    string `mapstructure:"project_id" yaml:"project_id"`
	Topic        string `mapstructure:"topic" yaml:"topic"`
	Subscription string `mapstructure:"subscription" yaml:"subscription"`
}

// Queue bridges Pub/Sub onto the blocking Enqueue/Dequeue contract the
// worker pool expects. Enqueue publishes submissions as JSON; a receive
// loop feeds Dequeue and acknowledges each message only after a worker
// has taken it, so unclaimed submissions redeliver.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger

	subs    chan scraper.Submission
	cancel  context.CancelFunc
	done    chan struct{}
	recvErr error

	closeOnce  sync.Once
	ownsClient bool
}

// New builds a queue around an existing client and starts its receive
// loop. The topic and subscription must already exist.
func New(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.Subscription == "" {
		return nil, fmt.Errorf("subscription is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		client: client,
		topic:  client.Topic(cfg.Topic),
		logger: logger,
		subs:   make(chan scraper.Submission),
		done:   make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go q.receive(ctx, client.Subscription(cfg.Subscription))
	return q, nil
}

// Dial creates the Pub/Sub client itself and verifies the topic and
// subscription exist, so a misconfigured queue fails at startup.
// Authentication uses Google's Application Default Credentials.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if err := checkExists(ctx, client, cfg); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after startup check failure", zap.Error(closeErr))
		}
		return nil, err
	}
	q, err := New(client, cfg, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after startup check failure", zap.Error(closeErr))
		}
		return nil, err
	}
	q.ownsClient = true
	return q, nil
}

func checkExists(ctx context.Context, client *pubsub.Client, cfg Config) error {
	if cfg.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if cfg.Subscription == "" {
		return fmt.Errorf("subscription is required")
	}
	exists, err := client.Topic(cfg.Topic).Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic %q exists: %w", cfg.Topic, err)
	}
	if !exists {
		return fmt.Errorf("topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}
	exists, err = client.Subscription(cfg.Subscription).Exists(ctx)
	if err != nil {
		return fmt.Errorf("subscription %q exists: %w", cfg.Subscription, err)
	}
	if !exists {
		return fmt.Errorf("subscription %q does not exist in project %q", cfg.Subscription, cfg.ProjectID)
	}
	return nil
}

// Enqueue publishes the submission and blocks until the server
// acknowledges it, so callers learn about broker outages immediately.
func (q *Queue) Enqueue(ctx context.Context, sub scraper.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"crawl_id": sub.CrawlID},
	}
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish submission: %w", err)
	}
	return nil
}

// Dequeue blocks until the receive loop hands over a submission, the
// context ends, or the queue shuts down.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Submission, error) {
	select {
	case <-ctx.Done():
		return scraper.Submission{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case sub := <-q.subs:
		return sub, nil
	case <-q.done:
		if q.recvErr != nil {
			// Wrap the sentinel so workers stop instead of retrying a
			// dead subscription; the cause was already logged.
			return scraper.Submission{}, fmt.Errorf("%w: receive loop: %v", scraper.ErrQueueClosed, q.recvErr)
		}
		return scraper.Submission{}, scraper.ErrQueueClosed
	}
}

func (q *Queue) receive(ctx context.Context, sub *pubsub.Subscription) {
	defer close(q.done)
	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var submission scraper.Submission
		if err := json.Unmarshal(msg.Data, &submission); err != nil {
			// A malformed payload would redeliver forever; ack to drop it.
			q.logger.Warn("dropping malformed submission",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.subs <- submission:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		q.recvErr = err
		q.logger.Error("pubsub receive loop failed", zap.Error(err))
	}
}

// Close stops the receive loop, flushes pending publishes, and closes
// the client when this queue created it. Safe to call more than once.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.cancel()
		<-q.done
		q.topic.Stop()
		if q.ownsClient {
			if closeErr := q.client.Close(); closeErr != nil {
				err = fmt.Errorf("close pubsub client: %w", closeErr)
			}
		}
	})
	return err
}
