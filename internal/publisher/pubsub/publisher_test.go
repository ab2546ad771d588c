package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	Source string `json:"source"`
	Title  string `json:"title"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"source": e.Source}
}

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "govwatch-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisherPublishesJSONWithAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "alerts")
	require.NoError(t, err)

	pub := New(client)
	id, err := pub.Publish(ctx, "alerts", event{Source: "seace", Title: "LP-SM-1-2025"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "seace", msgs[0].Attributes["source"])
	var got event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "LP-SM-1-2025", got.Title)
}

func TestPublisherValidation(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "alerts", "x")
	require.Error(t, err)

	client, _ := newFakeClient(t)
	pub := New(client)
	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "alerts", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = Open(context.Background(), "")
	require.Error(t, err)
}
