// Package notify delivers best-effort notifications after a room is resolved.
//
// Dispatch hands a copy of the data to a bounded queue and returns at once;
// workers deliver to a Sink. There is no acknowledgement path back to the
// caller and no retry: a failed or dropped delivery is logged and counted.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/pixperk/roomkey/pkg/metrics"
	"github.com/pixperk/roomkey/pkg/types"
)

type Notification struct {
	ResourceID string    `json:"resource_id"`
	Payload    []byte    `json:"payload"`
	QueuedAt   time.Time `json:"queued_at"`
}

type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// adapts a function to Sink
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per delivery
}

func DefaultOptions() Options {
	return Options{Workers: 4, QueueSize: 1024, Timeout: 5 * time.Second}
}

func OptionsFromConfig(cfg config.NotifyConfig) Options {
	return Options{Workers: cfg.Workers, QueueSize: cfg.QueueSize, Timeout: cfg.Timeout}
}

type Dispatcher struct {
	sink    Sink
	queue   chan Notification
	timeout time.Duration
	logger  hclog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// starts opts.Workers delivery workers
func NewDispatcher(sink Sink, opts Options, logger hclog.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Notification, opts.QueueSize),
		timeout: opts.Timeout,
		logger:  logging.OrNull(logger).Named("notify"),
	}

	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go d.worker()
	}
	return d
}

// Dispatch queues a notification without blocking. It returns false when the
// queue is full or the dispatcher is closed; the notification is then dropped.
func (d *Dispatcher) Dispatch(resourceID string, payload []byte) bool {
	n := Notification{
		ResourceID: resourceID,
		Payload:    append([]byte(nil), payload...),
		QueuedAt:   time.Now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(n, types.ErrDispatcherClosed)
		return false
	}

	select {
	case d.queue <- n:
		metrics.NotifyQueueDepth.Inc()
		return true
	default:
		d.drop(n, types.ErrQueueFull)
		return false
	}
}

func (d *Dispatcher) drop(n Notification, reason error) {
	metrics.NotifyTotal.WithLabelValues(metrics.StatusDropped).Inc()
	d.logger.Warn("notification dropped", "resource_id", n.ResourceID, "reason", reason)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for n := range d.queue {
		metrics.NotifyQueueDepth.Dec()
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.safeDeliver(ctx, n)
	if err != nil {
		metrics.NotifyTotal.WithLabelValues(metrics.StatusFailure).Inc()
		d.logger.Error("notification delivery failed", "resource_id", n.ResourceID, "error", err)
		return
	}

	metrics.NotifyTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	d.logger.Debug("notification delivered", "resource_id", n.ResourceID, "latency", time.Since(n.QueuedAt))
}

// a panicking sink must not take the worker down
func (d *Dispatcher) safeDeliver(ctx context.Context, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return d.sink.Deliver(ctx, n)
}

// Close stops accepting notifications and waits for queued ones to be
// delivered, or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still pending: %w", ctx.Err())
	}
}
