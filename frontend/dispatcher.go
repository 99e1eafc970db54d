package frontend

import (
	"context"
	"sync"
	"time"

	"github.com/javi11/nntpchand/metrics"
)

// Dispatcher runs notifications on a fixed worker pool. Submit never
// blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	n       Notifier
	queue   chan Event
	workers int
	timeout time.Duration
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(n Notifier, workers, queueSize int, timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		n:       n,
		queue:   make(chan Event, queueSize),
		workers: workers,
		timeout: timeout,
		metrics: m,
	}
}

// Start launches the workers. Notifications are cancelled with ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for ev := range d.queue {
		nctx, cancel := context.WithTimeout(ctx, d.timeout)
		start := time.Now()
		err := d.n.Notify(nctx, ev)
		cancel()

		if err != nil {
			logger.Warn("frontend notification failed", "frontend", d.n.Name(), "message_id", ev.MessageID, "error", err)
			d.metrics.Notification(d.n.Name(), "error")
			continue
		}
		logger.Debug("frontend notified", "frontend", d.n.Name(), "message_id", ev.MessageID, "took", time.Since(start))
		d.metrics.Notification(d.n.Name(), "ok")
	}
}

// Submit queues ev if the notifier accepts any of its groups. It reports
// whether the event was queued.
func (d *Dispatcher) Submit(ev Event) bool {
	if !d.wants(ev) {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		logger.Warn("frontend queue full, dropping notification", "frontend", d.n.Name(), "message_id", ev.MessageID)
		d.metrics.Notification(d.n.Name(), "dropped")
		return false
	}
}

func (d *Dispatcher) wants(ev Event) bool {
	for _, g := range ev.Newsgroups {
		if d.n.Accepts(g) {
			return true
		}
	}
	return false
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
