package repository

import (
	"context"
	"testing"
	"time"

	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryIsAppendOnly(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	dao := h.History()

	player, other := uuid.New(), uuid.New()
	entry := model.HistoricItem{
		ID:          uuid.New(),
		Action:      model.ActionListingSold,
		ListingID:   uuid.New(),
		Item:        "x",
		Price:       decimal.NewFromInt(100),
		Counterpart: &other,
		LoggedAt:    time.Now().UnixMilli(),
	}
	hist := model.History{Player: player, Entries: []model.HistoricItem{entry}}
	require.NoError(t, dao.Save(ctx, hist))
	require.NoError(t, dao.Save(ctx, hist))

	got, found, err := dao.Get(ctx, player)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Entries, 1)
	require.NotNil(t, got.Entries[0].Counterpart)
	assert.Equal(t, other, *got.Entries[0].Counterpart)
	assert.Equal(t, model.ActionListingSold, got.Entries[0].Action)

	assert.ErrorIs(t, dao.Update(ctx, hist), ErrImmutable)
	assert.ErrorIs(t, dao.Delete(ctx, hist), ErrImmutable)
	assert.ErrorIs(t, dao.DeleteSpecific(ctx, hist, entry.ID), ErrImmutable)
}
