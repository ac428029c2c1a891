package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/docharvest/docharvest/internal/publisher/pubsub"
	"github.com/docharvest/docharvest/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeServer(t *testing.T) (*pstest.Server, *gcppubsub.Client) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gcppubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func TestPublisherPublishesPageEvents(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeServer(t)

	topic, err := client.CreateTopic(ctx, "pages")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "pages-sub", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := pubsub.New(client)
	require.NoError(t, err)

	event := scraper.PageEvent{
		CrawlID:     "9f2c7a54-1f0e-4a3a-9c67-7b1f2f3d4e5f",
		URL:         "https://docs.example.com/guide/",
		MimeType:    "text/html",
		StatusCode:  200,
		ContentHash: "2c26b46b68ffc68ff99b453c1d304134",
		ArchiveURI:  "gs://docharvest-archive/raw/9f2c7a54/docs.example.com/2c26b46b68ff.html",
		FetchedAt:   time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, "pages", event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	received := make(chan *gcppubsub.Message, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gcppubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-received:
		var got scraper.PageEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, event, got)
		assert.Equal(t, event.CrawlID, msg.Attributes["crawl_id"])
		assert.Equal(t, "text/html", msg.Attributes["mime_type"])
	case <-time.After(5 * time.Second):
		t.Fatal("published message was not delivered")
	}
}

func TestPublisherRequiresTopic(t *testing.T) {
	_, client := newFakeServer(t)

	pub, err := pubsub.New(client)
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "", scraper.PageEvent{CrawlID: "c1"})
	assert.ErrorContains(t, err, "topic is required")
}

func TestNewRequiresClient(t *testing.T) {
	_, err := pubsub.New(nil)
	assert.ErrorContains(t, err, "pubsub client is required")
}

func TestDialRejectsMissingTopic(t *testing.T) {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = pubsub.Dial(context.Background(), pubsub.Config{
		ProjectID: "project-id",
		Topic:     "missing-topic",
	}, option.WithGRPCConn(conn))
	assert.ErrorContains(t, err, `topic "missing-topic" does not exist`)
}
