package live

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/sharing"
	"github.com/askwhyharsh/familycircle/internal/storage"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

type published struct {
	channel string
	payload []byte
}

type pubRedis struct {
	storage.RedisClient
	sent []published
}

func (p *pubRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	p.sent = append(p.sent, published{channel: channel, payload: message.([]byte)})
	return nil
}

type brokenViewers struct{}

func (brokenViewers) ViewersOf(ctx context.Context, ownerID string) ([]string, error) {
	return nil, errors.New("unavailable")
}

func TestLocationChangedOnlyReachesConsentedViewers(t *testing.T) {
	store := sharing.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSharingEdge(ctx, "alice", "bob", true))
	require.NoError(t, store.UpsertSharingEdge(ctx, "alice", "carol", false))
	require.NoError(t, store.UpsertSharingEdge(ctx, "dave", "alice", true))

	redis := &pubRedis{}
	n := NewNotifier(redis, store, logger.NewNop())

	sent, err := n.LocationChanged(ctx, &location.Location{UserID: "alice", Lat: 1, Lon: 2, UpdatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	require.Len(t, redis.sent, 1)
	assert.Equal(t, "family:bob", redis.sent[0].channel)

	var env envelope
	require.NoError(t, json.Unmarshal(redis.sent[0].payload, &env))
	assert.Equal(t, MessageTypeLocationUpdate, env.Message.Type)
	assert.Equal(t, "alice", env.Message.UserID)
	require.NotNil(t, env.Message.Latitude)
	assert.Equal(t, 1.0, *env.Message.Latitude)
}

func TestLocationChangedFailsClosed(t *testing.T) {
	redis := &pubRedis{}
	n := NewNotifier(redis, brokenViewers{}, logger.NewNop())

	sent, err := n.LocationChanged(context.Background(), &location.Location{UserID: "alice"})
	assert.Error(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, redis.sent)
}

func TestSharingRevokedCarriesNoCoordinates(t *testing.T) {
	redis := &pubRedis{}
	n := NewNotifier(redis, sharing.NewMemoryStore(), logger.NewNop())

	require.NoError(t, n.SharingRevoked(context.Background(), "alice", "bob"))
	require.Len(t, redis.sent, 1)
	assert.NotContains(t, string(redis.sent[0].payload), "latitude")
}

func TestHubDeliversToViewerOnly(t *testing.T) {
	hub := NewHub(nil, logger.NewNop())
	bob := &Client{hub: hub, send: make(chan *Message, 1), userID: "bob"}
	carol := &Client{hub: hub, send: make(chan *Message, 1), userID: "carol"}

	hub.registerClient(bob)
	hub.registerClient(carol)
	assert.Equal(t, 1, hub.Connected("bob"))

	hub.deliverLocal(&envelope{ViewerID: "bob", Message: NewRevokedMessage("alice")})

	select {
	case msg := <-bob.send:
		assert.Equal(t, MessageTypeSharingRevoked, msg.Type)
	default:
		t.Fatal("bob should have received the update")
	}
	assert.Empty(t, carol.send)

	hub.unregisterClient(bob)
	assert.Equal(t, 0, hub.Connected("bob"))
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(nil, logger.NewNop())
	slow := &Client{hub: hub, send: make(chan *Message), userID: "bob"}
	hub.registerClient(slow)

	hub.deliverLocal(&envelope{ViewerID: "bob", Message: NewRevokedMessage("alice")})

	assert.Equal(t, 0, hub.Connected("bob"))
	_, open := <-slow.send
	assert.False(t, open)
}

func TestHubStopsAcceptingAfterShutdown(t *testing.T) {
	hub := NewHub(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	bob := &Client{hub: hub, send: make(chan *Message, 1), userID: "bob"}
	require.True(t, hub.Register(bob))

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	// bob's send channel was closed by shutdown
	_, open := <-bob.send
	assert.False(t, open)

	returned := make(chan struct{})
	go func() {
		hub.Unregister(bob)
		assert.False(t, hub.Register(&Client{hub: hub, send: make(chan *Message, 1), userID: "carol"}))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("register/unregister blocked after shutdown")
	}
}
