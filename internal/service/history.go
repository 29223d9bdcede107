package service

import (
	"context"
	"time"

	"marketstore/internal/model"
	"marketstore/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionLogger appends entries to players' histories. Failures are
// logged and never affect the operation being recorded.
type TransactionLogger struct {
	store repository.DataHandler
	log   *zap.Logger
	now   func() time.Time
}

// NewTransactionLogger creates a logger writing through store.
func NewTransactionLogger(store repository.DataHandler, log *zap.Logger) *TransactionLogger {
	return &TransactionLogger{store: store, log: log.Named("history"), now: time.Now}
}

// Record appends one entry for player.
func (t *TransactionLogger) Record(ctx context.Context, player uuid.UUID, action model.Action, l model.Listing, price decimal.Decimal, counterpart *uuid.UUID) {
	entry := model.HistoricItem{
		ID:          uuid.New(),
		Action:      action,
		ListingID:   l.ID,
		Item:        l.Item,
		Price:       price,
		Counterpart: counterpart,
		LoggedAt:    t.now().UnixMilli(),
	}
	h := model.History{Player: player, Entries: []model.HistoricItem{entry}}
	if err := t.store.History().Save(ctx, h); err != nil {
		t.log.Error("failed to record history",
			zap.Stringer("player", player),
			zap.String("action", string(action)),
			zap.Stringer("listing", l.ID),
			zap.Error(err))
	}
}

// For returns the player's history, oldest first.
func (t *TransactionLogger) For(ctx context.Context, player uuid.UUID) (model.History, error) {
	h, _, err := t.store.History().Get(ctx, player)
	return h, err
}
