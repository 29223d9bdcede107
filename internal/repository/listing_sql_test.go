package repository

import (
	"context"
	"testing"

	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingSaveIsUpsert(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	dao := h.Listings()

	l := testListing()
	require.NoError(t, dao.Save(ctx, l))
	l.Price = decimal.NewFromInt(250)
	require.NoError(t, dao.Save(ctx, l))

	all, err := dao.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Price.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, l.Item, all[0].Item)
	assert.Equal(t, l.Owner, all[0].Owner)
}

func TestListingUpdateFields(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	dao := h.Listings()

	l := testListing()
	require.NoError(t, dao.Save(ctx, l))

	l.Category = "tools"
	l.Price = decimal.NewFromInt(1)
	require.NoError(t, dao.Update(ctx, l, "category"))

	got, found, err := dao.Get(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tools", got.Category)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(100)), "price was not in the field list")

	require.NoError(t, dao.Update(ctx, l))
	got, _, _ = dao.Get(ctx, l.ID)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(1)))

	assert.ErrorIs(t, dao.Update(ctx, l, "nope"), ErrUnknownField)
}

func TestListingDeleteMissingIsNoop(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	dao := h.Listings()

	l := testListing()
	require.NoError(t, dao.Save(ctx, l))
	require.NoError(t, dao.Delete(ctx, l))
	require.NoError(t, dao.Delete(ctx, l))

	_, found, err := dao.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListingWithdrawBid(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	dao := h.Listings()

	alice, bob := uuid.New(), uuid.New()
	l := testListing()
	l.Biddable = true
	l.Bids = []model.Bid{
		{Bidder: alice, Amount: decimal.NewFromInt(10), Placed: 1},
		{Bidder: bob, Amount: decimal.NewFromInt(20), Placed: 2},
	}
	require.NoError(t, dao.Save(ctx, l))
	require.NoError(t, dao.DeleteSpecific(ctx, l, alice))

	got, _, err := dao.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, got.Bids, 1)
	assert.Equal(t, bob, got.Bids[0].Bidder)
	assert.True(t, got.Biddable)

	assert.ErrorIs(t, dao.DeleteSpecific(ctx, l, "alice"), ErrUnsupported)
}
