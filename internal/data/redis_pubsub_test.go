package data

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPubSub_DeliversAfterSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	bus := NewRedisPubSub(RedisPubSubOptions{Client: client, Prefix: "test:"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, stop, err := bus.Subscribe(ctx, "task:signal:lip_sync:job-1")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, bus.Publish(ctx, "task:signal:lip_sync:job-1", []byte("done")))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("done"), msg)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestRedisPubSub_StopClosesChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	bus := NewRedisPubSub(RedisPubSubOptions{Client: client})

	ch, stop, err := bus.Subscribe(context.Background(), "task:signal:voice_tts:job-2")
	require.NoError(t, err)
	stop()
	stop()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisPubSub_ChannelsAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	bus := NewRedisPubSub(RedisPubSubOptions{Client: client})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, stop, err := bus.Subscribe(ctx, "task:signal:lip_sync:a")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, bus.Publish(ctx, "task:signal:lip_sync:b", []byte("other")))

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisPubSub_EmptyChannel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	bus := NewRedisPubSub(RedisPubSubOptions{Client: client})

	require.ErrorIs(t, bus.Publish(context.Background(), "", nil), ErrEmptyKey)
	_, _, err := bus.Subscribe(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyKey)
}
