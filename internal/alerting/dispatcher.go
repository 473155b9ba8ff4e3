package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DispatchStats is a snapshot of dispatcher counters.
type DispatchStats struct {
	Queued  int64
	Sent    int64
	Failed  int64
	Dropped int64
}

// AsyncDispatcher hands alerts to a Notifier on a background worker so the
// caller never waits on the outbound channel. Failures are logged and
// swallowed; nothing is retried.
type AsyncDispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Alert
	done   chan struct{}

	queued  atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewAsyncDispatcher starts the worker. size bounds the queue; timeout bounds
// every single delivery.
func NewAsyncDispatcher(notifier Notifier, size int, timeout time.Duration, logger zerolog.Logger) *AsyncDispatcher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	d := &AsyncDispatcher{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		queue:    make(chan Alert, size),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Dispatch enqueues alert without blocking. It reports false when the alert
// was dropped because the queue is full or the dispatcher is closed.
func (d *AsyncDispatcher) Dispatch(alert Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn().Str("symbol", alert.Symbol).Msg("dispatcher closed; alert dropped")
		return false
	}

	select {
	case d.queue <- alert:
		d.queued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Error().Str("symbol", alert.Symbol).Int("capacity", cap(d.queue)).Msg("dispatch queue full; alert dropped")
		return false
	}
}

func (d *AsyncDispatcher) loop() {
	defer close(d.done)
	for alert := range d.queue {
		d.deliver(alert)
	}
}

func (d *AsyncDispatcher) deliver(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, alert); err != nil {
		d.failed.Add(1)
		d.logger.Error().Err(err).Str("symbol", alert.Symbol).Msg("failed to dispatch alert")
		return
	}
	d.sent.Add(1)
}

// Close stops accepting alerts and waits for the queue to drain or ctx to end.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn().Int("pending", len(d.queue)).Msg("dispatcher drain interrupted")
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (d *AsyncDispatcher) Stats() DispatchStats {
	return DispatchStats{
		Queued:  d.queued.Load(),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}
