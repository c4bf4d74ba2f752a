package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"copytrade/internal/metrics"
	"copytrade/internal/queue"
	"copytrade/internal/webhook"
)

const (
	popTimeout  = time.Second
	maxAttempts = 3
)

// Worker разбирает очередь заданий. At-least-once: недоделанное задание
// воркер пушит обратно сам, очередь повторно не доставляет.
type Worker struct {
	queue    queue.Queue
	retries  queue.RetryLedger
	executor *Executor
	log      *zap.Logger

	wg sync.WaitGroup
}

func NewWorker(q queue.Queue, retries queue.RetryLedger, executor *Executor, log *zap.Logger) *Worker {
	return &Worker{queue: q, retries: retries, executor: executor, log: log}
}

// Start запускает n горутин-потребителей. Останавливаются по отмене ctx;
// Wait ждет завершения заданий в работе.
func (w *Worker) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.run(ctx, id)
		}(i)
	}
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, id int) {
	w.log.Info("worker started", zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped", zap.Int("worker", id))
			return
		}

		raw, err := w.queue.PopBlocking(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if raw == "" {
			continue // таймаут, работы нет
		}

		if depth, err := w.queue.Len(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
		w.process(ctx, raw)
	}
}

func (w *Worker) process(ctx context.Context, raw string) {
	var job webhook.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Ретраить нечего, лога под FAILED тоже нет. Выбрасываем.
		w.log.Error("discarding malformed job", zap.Error(err))
		metrics.JobsProcessedTotal.WithLabelValues("unknown", "malformed").Inc()
		return
	}

	action := job.Payload.Action
	start := time.Now()
	err := w.executor.Execute(ctx, &job)
	metrics.JobDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.JobsProcessedTotal.WithLabelValues(action, "success").Inc()
		_ = w.retries.Clear(ctx, job.LogID)
		return
	}

	if IsNonRetryable(err) {
		w.log.Warn("job failed permanently",
			zap.String("logId", job.LogID),
			zap.String("userId", job.UserID),
			zap.String("action", action),
			zap.Error(err))
		metrics.JobsProcessedTotal.WithLabelValues(action, "failed").Inc()
		w.executor.MarkFailed(ctx, &job, err)
		_ = w.retries.Clear(ctx, job.LogID)
		return
	}

	attempt, rerr := w.retries.Increment(ctx, job.LogID)
	if rerr != nil {
		w.log.Error("retry ledger unavailable, abandoning job",
			zap.String("logId", job.LogID), zap.Error(rerr))
		metrics.JobsProcessedTotal.WithLabelValues(action, "failed").Inc()
		w.executor.MarkFailed(ctx, &job, err)
		return
	}
	if attempt > maxAttempts {
		w.log.Warn("job exhausted retries",
			zap.String("logId", job.LogID),
			zap.String("userId", job.UserID),
			zap.Int64("attempts", attempt),
			zap.Error(err))
		metrics.JobsProcessedTotal.WithLabelValues(action, "failed").Inc()
		w.executor.MarkFailed(ctx, &job, err)
		_ = w.retries.Clear(ctx, job.LogID)
		return
	}

	delay := retryDelay(attempt)
	w.log.Info("retrying job",
		zap.String("logId", job.LogID),
		zap.Int64("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	metrics.JobRetriesTotal.Inc()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	if perr := w.queue.Push(ctx, raw); perr != nil {
		w.log.Error("failed to requeue job, abandoning",
			zap.String("logId", job.LogID), zap.Error(perr))
		w.executor.MarkFailed(ctx, &job, err)
	}
}

// retryDelay считает 2^attempt секунд: 2s, 4s, 8s.
func retryDelay(attempt int64) time.Duration {
	b := &backoff.Backoff{
		Min:    2 * time.Second,
		Max:    time.Minute,
		Factor: 2,
	}
	return b.ForAttempt(float64(attempt - 1))
}
