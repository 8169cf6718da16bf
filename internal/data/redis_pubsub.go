package data

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements core.PubSub with Redis PUBLISH/SUBSCRIBE.
// Messages published while nobody is subscribed are lost.
type RedisPubSub struct {
	client redis.UniversalClient
	prefix string
	buffer int
}

// RedisPubSubOptions configures a RedisPubSub.
type RedisPubSubOptions struct {
	Client redis.UniversalClient
	Prefix string
	// Buffer is the per-subscription channel size (default 1).
	Buffer int
}

// NewRedisPubSub creates a RedisPubSub.
func NewRedisPubSub(opts RedisPubSubOptions) *RedisPubSub {
	buf := opts.Buffer
	if buf <= 0 {
		buf = 1
	}
	return &RedisPubSub{client: opts.Client, prefix: opts.Prefix, buffer: buf}
}

// Publish sends message on channel.
func (p *RedisPubSub) Publish(ctx context.Context, channel string, message []byte) error {
	if channel == "" {
		return ErrEmptyKey
	}
	if err := p.client.Publish(ctx, p.prefix+channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on channel until ctx is done or the returned cancel func is called.
// The subscription is confirmed before Subscribe returns so no message published afterwards is missed.
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if channel == "" {
		return nil, nil, ErrEmptyKey
	}

	sub := p.client.Subscribe(ctx, p.prefix+channel)
	if _, err := sub.Receive(ctx); err != nil {
		closeErr := sub.Close()
		return nil, nil, errors.Join(fmt.Errorf("redis subscribe: %w", err), closeErr)
	}

	out := make(chan []byte, p.buffer)
	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
		})
	}

	go func() {
		defer close(out)
		defer stop()
		msgs := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Slow consumer; a pending wake-up is already queued.
				}
			}
		}
	}()

	return out, stop, nil
}
