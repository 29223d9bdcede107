package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is what happened to a listing, from one player's point of view.
type Action string

const (
	ActionListingCreated        Action = "LISTING_CREATED"
	ActionListingSold           Action = "LISTING_SOLD"
	ActionListingPurchased      Action = "LISTING_PURCHASED"
	ActionListingCancelled      Action = "LISTING_CANCELLED"
	ActionListingAdminCancelled Action = "LISTING_ADMIN_CANCELLED"
	ActionItemClaimed           Action = "ITEM_CLAIMED"
)

// HistoricItem is one immutable transaction log entry.
type HistoricItem struct {
	ID          uuid.UUID       `json:"id"`
	Action      Action          `json:"action"`
	ListingID   uuid.UUID       `json:"listing_id"`
	Item        string          `json:"item"`
	Price       decimal.Decimal `json:"price"`
	Counterpart *uuid.UUID      `json:"counterpart,omitempty"`
	LoggedAt    int64           `json:"logged_at"`
}

// History is a player's append-only transaction log.
type History struct {
	Player  uuid.UUID      `json:"player"`
	Entries []HistoricItem `json:"entries"`
}
