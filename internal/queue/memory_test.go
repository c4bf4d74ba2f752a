package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Push(ctx, "first"))
	require.NoError(t, q.Push(ctx, "second"))
	require.NoError(t, q.Push(ctx, "third"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"first", "second", "third"} {
		got, err := q.PopBlocking(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryQueuePopTimeout(t *testing.T) {
	q := NewMemoryQueue()

	start := time.Now()
	got, err := q.PopBlocking(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueuePopWakesOnPush(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	done := make(chan string, 1)
	go func() {
		got, _ := q.PopBlocking(ctx, 5*time.Second)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, "wake"))

	select {
	case got := <-done:
		assert.Equal(t, "wake", got)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestRetryLedger(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for want := int64(1); want <= 3; want++ {
		got, err := q.Increment(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, q.Clear(ctx, "job-1"))
	got, err := q.Increment(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestActiveSet(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Add(ctx, "user-a"))
	require.NoError(t, q.Add(ctx, "user-b"))
	require.NoError(t, q.Add(ctx, "user-a")) // идемпотентно

	members, err := q.Members(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-a", "user-b"}, members)

	ok, err := q.Contains(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, q.Remove(ctx, "user-a"))
	ok, err = q.Contains(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, ok)
}
