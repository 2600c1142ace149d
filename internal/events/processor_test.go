package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(i int) Event {
	return Event{UUID: fmt.Sprintf("evt-%d", i), Kind: KindConversion, UserID: "u1"}
}

func TestProcessor_FlushesOnBatchSize(t *testing.T) {
	mock := NewMockDispatcher()
	p := NewProcessor(mock, WithBatchSize(2), WithFlushInterval(time.Hour))
	defer p.Close()

	assert.True(t, p.Process(testEvent(1)))
	assert.True(t, p.Process(testEvent(2)))

	assert.Eventually(t, func() bool {
		return len(mock.Events()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, mock.Batches(), 1)
}

func TestProcessor_FlushesOnInterval(t *testing.T) {
	mock := NewMockDispatcher()
	p := NewProcessor(mock, WithBatchSize(100), WithFlushInterval(20*time.Millisecond))
	defer p.Close()

	p.Process(testEvent(1))

	assert.Eventually(t, func() bool {
		return len(mock.Events()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestProcessor_Flush(t *testing.T) {
	mock := NewMockDispatcher()
	p := NewProcessor(mock, WithBatchSize(100), WithFlushInterval(time.Hour))
	defer p.Close()

	for i := 0; i < 5; i++ {
		p.Process(testEvent(i))
	}

	require.NoError(t, p.Flush(context.Background()))

	events := mock.Events()
	require.Len(t, events, 5)
	assert.Equal(t, "evt-0", events[0].UUID)
	assert.Equal(t, "evt-4", events[4].UUID)

	stats := p.Stats()
	assert.Equal(t, int64(5), stats.Queued)
	assert.Equal(t, int64(5), stats.Dispatched)
	assert.Equal(t, 0, stats.Pending)
}

func TestProcessor_CloseFlushesPending(t *testing.T) {
	mock := NewMockDispatcher()
	p := NewProcessor(mock, WithBatchSize(100), WithFlushInterval(time.Hour))

	p.Process(testEvent(1))
	p.Process(testEvent(2))

	require.NoError(t, p.Close())
	assert.Len(t, mock.Events(), 2)

	// closed processors drop and close is idempotent
	assert.False(t, p.Process(testEvent(3)))
	require.NoError(t, p.Close())
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestProcessor_DropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	mock := NewMockDispatcher()
	mock.DispatchFunc = func(ctx context.Context, batch Batch) error {
		<-release
		return nil
	}

	p := NewProcessor(mock, WithQueueSize(1), WithBatchSize(1), WithFlushInterval(time.Hour))

	// first event occupies the worker, second fills the queue
	p.Process(testEvent(1))
	assert.Eventually(t, func() bool {
		return p.Stats().Pending == 0
	}, time.Second, 5*time.Millisecond)
	p.Process(testEvent(2))

	assert.False(t, p.Process(testEvent(3)))
	assert.Equal(t, int64(1), p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Close())
	assert.Len(t, mock.Events(), 2)
}

func TestProcessor_CountsFailures(t *testing.T) {
	mock := NewMockDispatcher()
	mock.DispatchFunc = func(ctx context.Context, batch Batch) error {
		return errors.New("endpoint down")
	}

	p := NewProcessor(mock, WithBatchSize(10), WithFlushInterval(time.Hour))
	p.Process(testEvent(1))
	p.Process(testEvent(2))
	require.NoError(t, p.Close())

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(0), stats.Dispatched)
}
