package notification

import (
	"context"

	"go.uber.org/zap"

	"laundry-sync-backend/internal/model"
)

// AlertSink delivers a notification outside the process. Delivery is best
// effort; the notification stays in the inbox either way.
type AlertSink interface {
	Name() string
	Deliver(ctx context.Context, n model.Notification) error
}

// WorkerPool manages a pool of workers pushing notifications to alert sinks.
type WorkerPool struct {
	size  int
	jobs  chan model.Notification
	sinks []AlertSink
	log   *zap.Logger

	// OnDelivered, when set, is called after every sink attempt.
	OnDelivered func(sink string, err error)
}

// NewWorkerPool creates a new worker pool with a job queue of the given depth.
func NewWorkerPool(size, queue int, log *zap.Logger, sinks ...AlertSink) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queue <= 0 {
		queue = size
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		size:  size,
		jobs:  make(chan model.Notification, queue),
		sinks: sinks,
		log:   log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case n := <-wp.jobs:
			wp.deliver(ctx, n)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// TryDispatch queues a notification without blocking. It reports false when
// the queue is full and the notification was not queued.
func (wp *WorkerPool) TryDispatch(n model.Notification) bool {
	select {
	case wp.jobs <- n:
		return true
	default:
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.Notification {
	return wp.jobs
}

func (wp *WorkerPool) deliver(ctx context.Context, n model.Notification) {
	for _, sink := range wp.sinks {
		err := sink.Deliver(ctx, n)
		if err != nil {
			wp.log.Warn("alert delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("notification_id", n.ID),
				zap.String("recipient", n.Recipient),
				zap.Error(err))
		}
		if wp.OnDelivered != nil {
			wp.OnDelivered(sink.Name(), err)
		}
	}
}
