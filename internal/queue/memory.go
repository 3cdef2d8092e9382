package queue

import (
	"context"
	"sync"
)

var _ Publisher = (*MemoryQueue)(nil)
var _ Subscriber = (*MemoryQueue)(nil)

// MemoryQueue fans events out to in-process subscribers and keeps a history.
// It backs tests and single-node deployments without a broker.
type MemoryQueue struct {
	mu          sync.Mutex
	history     []Event
	subscribers []chan Event
	closed      bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Publish(ctx context.Context, events ...Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.history = append(q.history, events...)

	for _, ch := range q.subscribers {
		for _, e := range events {
			select {
			case ch <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

func (q *MemoryQueue) Subscribe(ctx context.Context) (<-chan Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	ch := make(chan Event, 64)
	q.subscribers = append(q.subscribers, ch)

	go func() {
		<-ctx.Done()
		q.unsubscribe(ch)
	}()

	return ch, nil
}

func (q *MemoryQueue) unsubscribe(ch chan Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.subscribers {
		if s == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Events returns a copy of every published event.
func (q *MemoryQueue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.history))
	copy(out, q.history)
	return out
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, ch := range q.subscribers {
		close(ch)
	}
	q.subscribers = nil
	return nil
}
