package util //nolint:revive // package name util hosts small shared concurrency helpers

import "sync"

// SerialQueue hands posted values to a handler on one goroutine, in post order.
// Post never blocks on the handler.
type SerialQueue[T any] struct {
	handle func(T)

	mu      sync.Mutex
	items   []T
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewSerialQueue starts the delivery goroutine.
func NewSerialQueue[T any](handle func(T)) *SerialQueue[T] {
	q := &SerialQueue[T]{
		handle:  handle,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post enqueues v. It reports false once the queue is closed.
func (q *SerialQueue[T]) Post(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

// Close delivers what is already queued, then stops. It must not be called from the handler.
func (q *SerialQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.stopped
}

func (q *SerialQueue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *SerialQueue[T]) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, v := range batch {
			q.handle(v)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
