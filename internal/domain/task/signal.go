package task

import (
	"context"
	"errors"
	"sync"

	"github.com/target/taskrelay/internal/core"
	"github.com/target/taskrelay/internal/domain/model"
)

// ErrPubSubRequired indicates a PubSubSignal cannot be constructed without a transport.
var ErrPubSubRequired = errors.New("pubsub transport is required")

// Signal wakes waiters when a result for an identity was written.
// It is a latency optimization only: waiters always re-read the store, so lost signals are harmless.
type Signal interface {
	Publish(ctx context.Context, id model.JobIdentity) error
	// Subscribe returns a channel receiving a value per publication; unsubscribe closes it.
	Subscribe(ctx context.Context, id model.JobIdentity) (<-chan struct{}, func(), error)
}

// LocalSignal is an in-process Signal for single-binary deployments and tests.
type LocalSignal struct {
	mu   sync.Mutex
	subs map[model.JobIdentity]map[chan struct{}]struct{}
}

// NewLocalSignal constructs an empty LocalSignal.
func NewLocalSignal() *LocalSignal {
	return &LocalSignal{subs: make(map[model.JobIdentity]map[chan struct{}]struct{})}
}

// Publish notifies every subscriber of id without blocking.
func (s *LocalSignal) Publish(_ context.Context, id model.JobIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for id.
func (s *LocalSignal) Subscribe(_ context.Context, id model.JobIdentity) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	if s.subs[id] == nil {
		s.subs[id] = make(map[chan struct{}]struct{})
	}
	s.subs[id][ch] = struct{}{}

	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subscribers := s.subs[id]
		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			delete(s.subs, id)
		}
	}
	return ch, unsub, nil
}

// StopAll closes every subscription.
func (s *LocalSignal) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, subscribers := range s.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(s.subs, id)
	}
}

func (s *LocalSignal) subscriberCount(id model.JobIdentity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[id])
}

// drainAndClose removes buffered notifications before closing so receivers observe the close immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

// PubSubSignal adapts a core.PubSub (Redis in production) to Signal so waiters in one
// process are woken by callbacks handled in another.
type PubSubSignal struct {
	bus core.PubSub
}

// NewPubSubSignal constructs a PubSubSignal.
func NewPubSubSignal(bus core.PubSub) (*PubSubSignal, error) {
	if bus == nil {
		return nil, ErrPubSubRequired
	}
	return &PubSubSignal{bus: bus}, nil
}

// Publish broadcasts completion of id.
func (s *PubSubSignal) Publish(ctx context.Context, id model.JobIdentity) error {
	return s.bus.Publish(ctx, SignalChannel(id), []byte(id.String()))
}

// Subscribe listens for completion of id.
func (s *PubSubSignal) Subscribe(ctx context.Context, id model.JobIdentity) (<-chan struct{}, func(), error) {
	msgs, cancel, err := s.bus.Subscribe(ctx, SignalChannel(id))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, cancel, nil
}

var (
	_ Signal = (*LocalSignal)(nil)
	_ Signal = (*PubSubSignal)(nil)
)
