package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	otelx "github.com/md-rashed-zaman/voicebook/libs/otel"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/metrics"
)

var (
	ErrQueueFull = errors.New("dispatcher queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type Handler func(ctx context.Context, task Task) error

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher runs tasks after the submitting request has returned. Tasks never see the
// request's cancellation; failures go to the log and metrics only, with no retry.
type Dispatcher struct {
	handle  Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	workers int

	mu      sync.RWMutex
	stopped bool
	queue   chan Task
	wg      sync.WaitGroup
}

func NewDispatcher(handle Handler, logger *slog.Logger, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Dispatcher{
		handle:  handle,
		logger:  logger,
		metrics: m,
		timeout: cfg.Timeout,
		workers: cfg.Workers,
		queue:   make(chan Task, cfg.QueueSize),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Submit enqueues without blocking. The trace context of ctx is carried on the task.
func (d *Dispatcher) Submit(ctx context.Context, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	task.Trace = otelx.CaptureTraceContext(ctx)
	select {
	case d.queue <- task:
		d.metrics.QueueDepth(len(d.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued tasks to finish or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
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
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for task := range d.queue {
		d.metrics.QueueDepth(len(d.queue))
		d.run(task)
	}
}

func (d *Dispatcher) run(task Task) {
	ctx := task.Trace.Restore(context.Background())
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("background task panicked", "tenant_id", task.TenantID, "call_id", task.CallID, "panic", rec)
			d.metrics.BackgroundTask("call_ingestion", errors.New("panic"))
		}
	}()

	err := d.handle(ctx, task)
	d.metrics.BackgroundTask("call_ingestion", err)
	if err != nil {
		d.logger.Error("background task failed",
			"tenant_id", task.TenantID, "call_id", task.CallID, "traceparent", task.Trace.Traceparent, "err", err)
	}
}
