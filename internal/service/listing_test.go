package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketstore/internal/broker"
	"marketstore/internal/events"
	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPurchaseMovesMoneyAndItem(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, newStore(t), nil, "")
	seller, buyer := uuid.New(), uuid.New()
	e.ledger.SetBalance(buyer, decimal.NewFromInt(100))
	e.players.Join(buyer)

	completed := make(chan events.PurchaseCompleted, 1)
	e.bus.Subscribe(events.EventTypePurchaseCompleted, func(ctx context.Context, ev events.Event) error {
		completed <- ev.(events.PurchaseCompleted)
		return nil
	})

	l := e.list(t, seller, 100, 10)
	receipt, err := e.svc.Purchase(ctx, l.ID, buyer)
	require.NoError(t, err)

	assert.True(t, receipt.Payout.Equal(decimal.NewFromInt(90)))
	assert.True(t, receipt.Tax.Equal(decimal.NewFromInt(10)))
	assert.True(t, e.ledger.Balance(buyer).IsZero())
	assert.True(t, e.ledger.Balance(seller).Equal(decimal.NewFromInt(90)))

	_, err = e.svc.Get(l.ID)
	assert.ErrorIs(t, err, ErrDoesNotExist)
	_, found, err := e.store.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, found, "row deleted")

	box := e.svc.CollectionBox(buyer)
	require.Len(t, box.Items, 1)
	assert.Equal(t, l.ID, box.Items[0].ID)
	assert.Equal(t, seller, box.Items[0].Owner)
	stored, _, err := e.store.CollectionBoxes().Get(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assert.Empty(t, e.svc.ExpiredItems(seller).Items)

	msgs := e.players.Drain(buyer)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bought diamond_sword for 100 vault", msgs[0].Text)

	assert.ElementsMatch(t, []model.Action{model.ActionListingCreated, model.ActionListingSold}, e.history(t, seller))
	assert.Equal(t, []model.Action{model.ActionListingPurchased}, e.history(t, buyer))

	select {
	case ev := <-completed:
		assert.Equal(t, buyer, ev.Buyer)
		assert.True(t, ev.Payout.Equal(decimal.NewFromInt(90)))
	case <-time.After(time.Second):
		t.Fatal("no purchase event")
	}
}

func TestPurchaseGuards(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, newStore(t), nil, "")
	seller, buyer := uuid.New(), uuid.New()
	e.players.Join(buyer)
	e.ledger.SetBalance(buyer, decimal.NewFromInt(50))
	l := e.list(t, seller, 100, 10)
	held := e.list(t, seller, 100, 10)
	_, ok := e.caches.Listings.Reserve(held.ID)
	require.True(t, ok)

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr error
		wantMsg string
	}{
		{"too expensive", l.ID, ErrTooExpensive, "too expensive"},
		{"unknown listing", uuid.New(), ErrDoesNotExist, "gone"},
		{"held by another purchase and too expensive", held.ID, ErrTooExpensive, "too expensive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Purchase(ctx, tt.id, buyer)
			assert.ErrorIs(t, err, tt.wantErr)
			msgs := e.players.Drain(buyer)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantMsg, msgs[0].Text)
		})
	}

	assert.True(t, e.ledger.Balance(buyer).Equal(decimal.NewFromInt(50)))
	_, err := e.svc.Get(l.ID)
	assert.NoError(t, err, "listing untouched")
	assert.Empty(t, e.history(t, buyer))
}

func TestConcurrentPurchaseTransfersOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, newStore(t), nil, "")
	seller := uuid.New()
	l := e.list(t, seller, 100, 10)

	const buyers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []uuid.UUID
	)
	for i := 0; i < buyers; i++ {
		buyer := uuid.New()
		e.ledger.SetBalance(buyer, decimal.NewFromInt(100))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Purchase(ctx, l.ID, buyer)
			if err == nil {
				mu.Lock()
				wins = append(wins, buyer)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrDoesNotExist)
		}()
	}
	wg.Wait()

	require.Len(t, wins, 1)
	assert.True(t, e.ledger.Balance(seller).Equal(decimal.NewFromInt(90)))
	assert.True(t, e.ledger.Balance(wins[0]).IsZero())
}

func TestCancelReturnsItemToOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, newStore(t), nil, "")
	owner, admin := uuid.New(), uuid.New()

	ended := make(chan events.ListingEnded, 2)
	e.bus.Subscribe(events.EventTypeListingEnded, func(ctx context.Context, ev events.Event) error {
		ended <- ev.(events.ListingEnded)
		return nil
	})

	tests := []struct {
		name       string
		actor      uuid.UUID
		wantAction model.Action
		wantReason events.EndReason
	}{
		{"owner", owner, model.ActionListingCancelled, events.ReasonCancelled},
		{"admin", admin, model.ActionListingAdminCancelled, events.ReasonCancelledAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := e.list(t, owner, 10, 0)
			require.NoError(t, e.svc.Cancel(ctx, l.ID, tt.actor))

			expired := e.svc.ExpiredItems(owner)
			_, ok := expired.Find(l.ID)
			assert.True(t, ok, "item goes to the owner's expired items")
			assert.Empty(t, e.svc.CollectionBox(owner).Items, "never to the collection box")

			assert.Contains(t, e.history(t, owner), tt.wantAction)

			select {
			case ev := <-ended:
				assert.Equal(t, tt.wantReason, ev.Reason)
			case <-time.After(time.Second):
				t.Fatal("no listing ended event")
			}

			assert.ErrorIs(t, e.svc.Cancel(ctx, l.ID, tt.actor), ErrDoesNotExist)
			_, err := e.svc.Purchase(ctx, l.ID, uuid.New())
			assert.ErrorIs(t, err, ErrDoesNotExist)
		})
	}

	stored, _, err := e.store.ExpiredItems().Get(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
}

func TestCreateValidates(t *testing.T) {
	e := newEnv(t, newStore(t), nil, "")
	_, err := e.svc.Create(context.Background(), model.Listing{Owner: uuid.New(), Item: "x", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, model.ErrInvalidListing)

	l := e.list(t, uuid.New(), 5, 0)
	assert.Equal(t, "vault", l.Currency)
	assert.Equal(t, l.CreationDate+DefaultListingDuration.Milliseconds(), l.DeletionDate)
	assert.Len(t, e.svc.Listings(), 1)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, newStore(t), nil, "")
	seller, buyer := uuid.New(), uuid.New()
	e.ledger.SetBalance(buyer, decimal.NewFromInt(5))
	l := e.list(t, seller, 5, 0)
	_, err := e.svc.Purchase(ctx, l.ID, buyer)
	require.NoError(t, err)

	item, err := e.svc.Claim(ctx, buyer, model.ContainerCollectionBox, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "diamond_sword", item.Item)
	assert.Empty(t, e.svc.CollectionBox(buyer).Items)

	stored, _, err := e.store.CollectionBoxes().Get(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, stored.Items, "claimed rows are marked collected")

	_, err = e.svc.Claim(ctx, buyer, model.ContainerCollectionBox, l.ID)
	assert.ErrorIs(t, err, ErrDoesNotExist)

	n, err := e.store.Cull(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClaimAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := newEnv(t, store, nil, "")
	seller, buyer := uuid.New(), uuid.New()
	a.ledger.SetBalance(buyer, decimal.NewFromInt(5))
	l := a.list(t, seller, 5, 0)
	_, err := a.svc.Purchase(ctx, l.ID, buyer)
	require.NoError(t, err)

	b := newEnv(t, store, nil, "")
	require.NoError(t, WarmCaches(ctx, store, b.caches, zap.NewNop()))
	require.Len(t, b.svc.CollectionBox(buyer).Items, 1)

	var wins int
	for _, e := range []*env{a, b} {
		_, err := e.svc.Claim(ctx, buyer, model.ContainerCollectionBox, l.ID)
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrDoesNotExist)
	}
	assert.Equal(t, 1, wins)
	assert.Empty(t, a.svc.CollectionBox(buyer).Items)
	assert.Empty(t, b.svc.CollectionBox(buyer).Items, "a lost claim is not put back")
}

func TestExpireDue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, newStore(t), nil, "")
	owner := uuid.New()
	now := time.Now()

	past, err := e.svc.Create(ctx, model.Listing{
		Owner: owner, Item: "old", Price: decimal.NewFromInt(1),
		CreationDate: now.Add(-2 * time.Hour).UnixMilli(), DeletionDate: now.Add(-time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	e.list(t, owner, 1, 0)

	assert.Equal(t, 1, e.svc.ExpireDue(ctx))
	assert.Len(t, e.svc.Listings(), 1)
	expired := e.svc.ExpiredItems(owner)
	_, ok := expired.Find(past.ID)
	assert.True(t, ok)
}

func TestFederatedPurchase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newStore(t)
	b := broker.NewMemory(zap.NewNop())
	a, other := newEnv(t, store, b, "a"), newEnv(t, store, b, "b")
	for _, n := range []*env{a, other} {
		go n.sync.(interface{ Run(context.Context) error }).Run(ctx)
	}
	require.Eventually(t, func() bool { return b.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	seller, buyer := uuid.New(), uuid.New()
	other.players.Join(seller)
	a.ledger.SetBalance(buyer, decimal.NewFromInt(100))

	l := a.list(t, seller, 100, 10)
	require.Eventually(t, func() bool {
		_, err := other.svc.Get(l.ID)
		return err == nil
	}, time.Second, 5*time.Millisecond, "LISTING_ADD reloads the listing")

	_, err := a.svc.Purchase(ctx, l.ID, buyer)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := other.svc.Get(l.ID)
		return errors.Is(err, ErrDoesNotExist) && len(other.svc.CollectionBox(buyer).Items) == 1
	}, time.Second, 5*time.Millisecond)
	var texts []string
	assert.Eventually(t, func() bool {
		for _, m := range other.players.Drain(seller) {
			texts = append(texts, m.Text)
		}
		return len(texts) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"listed diamond_sword for 100 vault", "sold diamond_sword for 90 vault"}, texts)
}
