package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), TopicProfileUpdated, subhook.ProfileEvent{}))
	assert.NoError(t, pub.Close())
}

func TestNATSPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNATSPublisher_ProfileUpdatedHook(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("subhook.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck
	require.NoError(t, nc.Flush())

	appliedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hook := ProfileUpdatedHook(pub, "")
	require.NoError(t, hook(context.Background(), subhook.ProfileEvent{
		EventID:   "evt_1",
		EventType: "customer.subscription.deleted",
		UserID:    "u1",
		Status:    subhook.StatusCanceled,
		Tier:      subhook.TierFree,
		AppliedAt: appliedAt,
	}))
	require.NoError(t, pub.Flush(context.Background()))

	select {
	case msg := <-ch:
		assert.Equal(t, TopicProfileUpdated, msg.Subject)
		assert.Equal(t, "evt_1", msg.Header.Get(nats.MsgIdHdr))

		var got subhook.ProfileEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, subhook.StatusCanceled, got.Status)
		assert.True(t, appliedAt.Equal(got.AppliedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, TopicProfileUpdated, subhook.ProfileEvent{}), context.Canceled)
}

func TestNATSPublisher_FlushWithDeadline(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pub.Publish(ctx, TopicProfileUpdated, subhook.ProfileEvent{EventID: "evt_2"}))
	require.NoError(t, pub.Flush(ctx))
	require.NoError(t, pub.Close())
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", nats.Timeout(200*time.Millisecond))
	assert.Error(t, err)
}
