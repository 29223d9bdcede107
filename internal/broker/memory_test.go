package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitSubscribers(t *testing.T, b *Memory, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers() == n }, time.Second, 5*time.Millisecond)
}

func TestMemoryFanout(t *testing.T) {
	b := NewMemory(zap.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[int][]Type{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Subscribe(ctx, func(ctx context.Context, m Message) error {
				mu.Lock()
				seen[i] = append(seen[i], m.Type)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	waitSubscribers(t, b, 3)

	require.NoError(t, b.Publish(ctx, NewIDMessage(CollectionBoxUpdate, uuid.New(), "a")))
	require.NoError(t, b.Publish(ctx, NewIDMessage(ListingRemove, uuid.New(), "a")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i := 0; i < 3; i++ {
			if len(seen[i]) != 2 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, 0, b.Subscribers())
}

func TestMemoryHandlerErrorKeepsDelivering(t *testing.T) {
	b := NewMemory(zap.NewNop())
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count int32
	var mu sync.Mutex
	go b.Subscribe(ctx, func(ctx context.Context, m Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return assert.AnError
	})
	waitSubscribers(t, b, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, NewIDMessage(ListingAdd, uuid.New(), "a")))
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryClosed(t *testing.T) {
	b := NewMemory(zap.NewNop())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), NewIDMessage(ListingAdd, uuid.New(), "")), ErrClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), func(context.Context, Message) error { return nil }), ErrClosed)
}

func TestNewUnsupported(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "msmq"}, zap.NewNop())
	assert.Error(t, err)

	b, err := New(context.Background(), Config{Type: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())
}
