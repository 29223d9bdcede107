package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingExpirer struct{ calls atomic.Int32 }

func (c *countingExpirer) ExpireDue(ctx context.Context) int {
	c.calls.Add(1)
	return 0
}

func TestCullSchedulerRunNow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	player := uuid.New()
	item := model.CollectableItem{ID: uuid.New(), Item: "x"}
	require.NoError(t, store.CollectionBoxes().Save(ctx, model.CollectionBox{Player: player, Items: []model.CollectableItem{item}}))
	require.NoError(t, store.CollectionBoxes().DeleteSpecific(ctx, model.CollectionBox{Player: player}, item.ID))

	disabled := NewCullScheduler(store, nil, CullConfig{}, zap.NewNop())
	n, err := disabled.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	s := NewCullScheduler(store, nil, CullConfig{Retention: time.Hour}, zap.NewNop())
	n, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "collected too recently")

	s = NewCullScheduler(store, nil, CullConfig{Retention: -time.Hour}, zap.NewNop())
	n, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "negative retention disables the cull")
}

func TestCullSchedulerStartStop(t *testing.T) {
	exp := &countingExpirer{}
	s := NewCullScheduler(newStore(t), exp, CullConfig{Interval: 10 * time.Millisecond}, zap.NewNop())
	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	calls := exp.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, exp.calls.Load())
}

func TestWarmCaches(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	e := newEnv(t, store, nil, "")
	owner := uuid.New()
	l := e.list(t, owner, 3, 0)
	require.NoError(t, e.svc.Cancel(ctx, l.ID, owner))
	e.list(t, owner, 4, 0)

	fresh := newEnv(t, store, nil, "")
	require.NoError(t, WarmCaches(ctx, store, fresh.caches, zap.NewNop()))
	assert.Len(t, fresh.svc.Listings(), 1)
	assert.Len(t, fresh.svc.ExpiredItems(owner).Items, 1)
}
