package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/desertthunder/trackline/internal/shared"
)

// ErrBrokerClosed is returned by a broker after Close.
var ErrBrokerClosed = fmt.Errorf("%w: broker closed", shared.ErrServiceUnavailable)

// Envelope is the message published for one job. The job row stays the source of truth.
type Envelope struct {
	JobID   string          `json:"job_id"`
	Queue   string          `json:"queue"`
	Type    string          `json:"type"`
	BatchID string          `json:"batch_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Delivery is a received envelope that must be acknowledged once handled.
type Delivery struct {
	Envelope
	ack func(context.Context) error
}

// NewDelivery wraps env with an acknowledgement callback.
func NewDelivery(env Envelope, ack func(context.Context) error) Delivery {
	return Delivery{Envelope: env, ack: ack}
}

// Ack tells the broker the message will not be redelivered.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Broker moves envelopes between the request layer and the workers.
//
// Receive blocks until a message is available on queue or ctx is done.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Receive(ctx context.Context, queue string) (Delivery, error)
	Close() error
}

type memoryQueue struct {
	items []Envelope
	ready chan struct{}
}

// MemoryBroker is an in-process FIFO broker, one unbounded list per queue.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	done   chan struct{}
	closed bool
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memoryQueue), done: make(chan struct{})}
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{ready: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	q := b.queue(env.Queue)
	q.items = append(q.items, env)
	signal(q.ready)
	return nil
}

func (b *MemoryBroker) Receive(ctx context.Context, queue string) (Delivery, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Delivery{}, ErrBrokerClosed
		}
		q := b.queue(queue)
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				signal(q.ready)
			}
			b.mu.Unlock()
			return NewDelivery(env, nil), nil
		}
		ready := q.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-b.done:
			return Delivery{}, ErrBrokerClosed
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		}
	}
}

// Len returns the number of messages waiting on queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.items)
	}
	return 0
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
