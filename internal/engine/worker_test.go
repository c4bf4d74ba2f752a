package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytrade/internal/exchange"
	"copytrade/internal/queue"
	"copytrade/internal/webhook"
)

func newWorkerRig(t *testing.T, credsErr error) (*Worker, *queue.MemoryQueue, *fakeLogs) {
	t.Helper()

	logs := newFakeLogs()
	factory := func(string, exchange.Credentials) (exchange.Adapter, error) {
		return &fakeAdapter{}, nil
	}
	executor := NewExecutor(
		logs, &fakeSettings{settings: defaultSettings()}, &fakeCreds{err: credsErr},
		newFakePositions(), &fakeOrders{}, &fakeTrades{},
		&fakeNotifier{}, factory, zap.NewNop())

	q := queue.NewMemoryQueue()
	return NewWorker(q, q, executor, zap.NewNop()), q, logs
}

func marshalJob(t *testing.T, job *webhook.Job) string {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return string(data)
}

func TestWorkerAbandonsNonRetryableJob(t *testing.T) {
	w, q, logs := newWorkerRig(t, errors.New("no valid api key for user u1"))
	ctx := context.Background()

	w.process(ctx, marshalJob(t, openJob("open")))

	assert.Contains(t, logs.failed, "log-1")
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(0), n, "non-retryable jobs must not requeue")
}

func TestWorkerRequeuesRetryableJob(t *testing.T) {
	w, q, logs := newWorkerRig(t, errors.New("connection refused"))
	ctx := context.Background()

	start := time.Now()
	w.process(ctx, marshalJob(t, openJob("open")))

	// Первая попытка ждет 2с перед возвратом в очередь.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(1), n)
	assert.NotContains(t, logs.failed, "log-1")
}

func TestWorkerAbandonsAfterMaxAttempts(t *testing.T) {
	w, q, logs := newWorkerRig(t, errors.New("connection refused"))
	ctx := context.Background()

	// Бюджет повторов уже израсходован.
	for i := 0; i < maxAttempts; i++ {
		_, err := q.Increment(ctx, "log-1")
		require.NoError(t, err)
	}

	w.process(ctx, marshalJob(t, openJob("open")))

	assert.Contains(t, logs.failed, "log-1")
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(0), n)
}

func TestWorkerDiscardsMalformedJob(t *testing.T) {
	w, q, logs := newWorkerRig(t, nil)
	ctx := context.Background()

	w.process(ctx, "{not json")

	assert.Empty(t, logs.failed)
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(0), n)
}

func TestWorkerClearsRetryCounterOnSuccess(t *testing.T) {
	w, q, logs := newWorkerRig(t, nil)
	ctx := context.Background()

	_, err := q.Increment(ctx, "log-1") // счетчик остался от прошлой попытки
	require.NoError(t, err)

	// close без сохраненной позиции успешен как no-op.
	w.process(ctx, marshalJob(t, openJob("close")))

	assert.Contains(t, logs.success, "log-1")
	count, err := q.Increment(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "retry counter should have been cleared")
}

func TestRetryDelayDoubles(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 8*time.Second, retryDelay(3))
}
