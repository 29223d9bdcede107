package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidListing is returned by Listing.Validate.
var ErrInvalidListing = errors.New("invalid listing")

var hundred = decimal.NewFromInt(100)

// Listing is an item offered for sale on the market.
type Listing struct {
	ID           uuid.UUID       `json:"id"`
	Owner        uuid.UUID       `json:"owner"`
	OwnerName    string          `json:"owner_name"`
	Item         string          `json:"item"`
	Category     string          `json:"category"`
	Currency     string          `json:"currency"`
	Price        decimal.Decimal `json:"price"`
	Tax          decimal.Decimal `json:"tax"` // percent, 0-100
	CreationDate int64           `json:"creation_date"`
	DeletionDate int64           `json:"deletion_date"`
	Biddable     bool            `json:"biddable"`
	Bids         []Bid           `json:"bids"`
}

// Bid is an offer placed on a biddable listing.
type Bid struct {
	Bidder uuid.UUID       `json:"bidder"`
	Amount decimal.Decimal `json:"amount"`
	Placed int64           `json:"placed"`
}

// Validate checks the listing's structural invariants.
func (l *Listing) Validate() error {
	switch {
	case l.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrInvalidListing)
	case l.Owner == uuid.Nil:
		return fmt.Errorf("%w: missing owner", ErrInvalidListing)
	case l.Item == "":
		return fmt.Errorf("%w: missing item", ErrInvalidListing)
	case l.Price.IsNegative():
		return fmt.Errorf("%w: negative price", ErrInvalidListing)
	case l.Tax.IsNegative() || l.Tax.GreaterThan(hundred):
		return fmt.Errorf("%w: tax must be within 0-100", ErrInvalidListing)
	case l.DeletionDate < l.CreationDate:
		return fmt.Errorf("%w: deletion date before creation date", ErrInvalidListing)
	}
	return nil
}

// Payout is the amount credited to the seller: price * (1 - tax/100).
func (l *Listing) Payout() decimal.Decimal {
	return l.Price.Sub(l.TaxAmount())
}

// TaxAmount is the share of the price retained by the market.
func (l *Listing) TaxAmount() decimal.Decimal {
	return l.Price.Mul(l.Tax).Div(hundred)
}

// Expired reports whether the listing is past its deletion date at now (epoch millis).
func (l *Listing) Expired(now int64) bool {
	return l.DeletionDate > 0 && now >= l.DeletionDate
}

// HighestBid returns the largest bid, if any.
func (l *Listing) HighestBid() (Bid, bool) {
	var best Bid
	found := false
	for _, b := range l.Bids {
		if !found || b.Amount.GreaterThan(best.Amount) {
			best, found = b, true
		}
	}
	return best, found
}
