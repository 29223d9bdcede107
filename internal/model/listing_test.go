package model

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validListing() Listing {
	return Listing{
		ID:           uuid.New(),
		Owner:        uuid.New(),
		Item:         "diamond_sword",
		Price:        decimal.NewFromInt(100),
		Tax:          decimal.NewFromInt(10),
		CreationDate: 1000,
		DeletionDate: 2000,
	}
}

func TestListingValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Listing)
		ok     bool
	}{
		{"valid", func(*Listing) {}, true},
		{"free", func(l *Listing) { l.Price = decimal.Zero }, true},
		{"missing id", func(l *Listing) { l.ID = uuid.Nil }, false},
		{"missing owner", func(l *Listing) { l.Owner = uuid.Nil }, false},
		{"missing item", func(l *Listing) { l.Item = "" }, false},
		{"negative price", func(l *Listing) { l.Price = decimal.NewFromInt(-1) }, false},
		{"tax over 100", func(l *Listing) { l.Tax = decimal.NewFromInt(101) }, false},
		{"negative tax", func(l *Listing) { l.Tax = decimal.NewFromInt(-5) }, false},
		{"deleted before created", func(l *Listing) { l.DeletionDate = 500 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validListing()
			tt.mutate(&l)
			err := l.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidListing), "got %v", err)
		})
	}
}

func TestListingPayout(t *testing.T) {
	l := validListing()
	assert.True(t, l.Payout().Equal(decimal.NewFromInt(90)))
	assert.True(t, l.TaxAmount().Equal(decimal.NewFromInt(10)))

	l.Price = decimal.RequireFromString("19.99")
	l.Tax = decimal.NewFromInt(5)
	assert.Equal(t, "18.9905", l.Payout().String())
	assert.True(t, l.Payout().Add(l.TaxAmount()).Equal(l.Price))
}

func TestListingExpired(t *testing.T) {
	l := validListing()
	assert.False(t, l.Expired(1999))
	assert.True(t, l.Expired(2000))

	l.DeletionDate = 0
	assert.False(t, l.Expired(1<<40))
}

func TestHighestBid(t *testing.T) {
	l := validListing()
	_, ok := l.HighestBid()
	assert.False(t, ok)

	a, b := uuid.New(), uuid.New()
	l.Bids = []Bid{
		{Bidder: a, Amount: decimal.NewFromInt(5)},
		{Bidder: b, Amount: decimal.NewFromInt(12)},
		{Bidder: a, Amount: decimal.NewFromInt(7)},
	}
	best, ok := l.HighestBid()
	assert.True(t, ok)
	assert.Equal(t, b, best.Bidder)
}

func TestParseContainer(t *testing.T) {
	c, err := ParseContainer("expired-items")
	assert.NoError(t, err)
	assert.Equal(t, ContainerExpiredItems, c)

	_, err = ParseContainer("attic")
	assert.Error(t, err)
}
