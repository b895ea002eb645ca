package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// DefaultQueueSize bounds the number of undelivered messages held in memory.
const DefaultQueueSize = 256

// ErrDispatcherClosed is returned by Enqueue once Close has been called.
var ErrDispatcherClosed = errors.New("notify: dispatcher closed")

// ErrQueueFull is returned by Enqueue when the queue has no free slot.
var ErrQueueFull = errors.New("notify: queue full")

// Dispatcher hands messages to a Publisher from a single background worker.
// Enqueue never blocks; messages that do not fit are dropped and logged.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
	queue     chan Message

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher. A size of zero or less uses DefaultQueueSize.
func NewDispatcher(publisher Publisher, size int, logger *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		publisher: publisher,
		logger:    logger.With("component", "notify.dispatcher"),
		queue:     make(chan Message, size),
	}
}

// Start launches the worker. Calling Start more than once has no effect.
func (d *Dispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(workerCtx)
}

// Enqueue queues msg for delivery without waiting.
func (d *Dispatcher) Enqueue(msg Message) error {
	if d == nil {
		return ErrDispatcherClosed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger.Warn("notification dropped", "kind", msg.Kind, "session_id", msg.SessionID, "queue_size", cap(d.queue))
		return ErrQueueFull
	}
}

// Pending reports how many messages wait for the worker.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	return len(d.queue)
}

// Close stops accepting messages and waits until the worker drained the
// queue or ctx expires. Undelivered messages are abandoned on expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		if ctx.Err() != nil {
			d.logger.Warn("notification abandoned", "kind", msg.Kind, "session_id", msg.SessionID)
			continue
		}
		if err := d.publisher.Publish(ctx, msg); err != nil {
			d.logger.Error("notification delivery failed", "kind", msg.Kind, "session_id", msg.SessionID, "error", err)
			continue
		}
		d.logger.Debug("notification delivered", "kind", msg.Kind, "session_id", msg.SessionID)
	}
}
