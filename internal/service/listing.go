package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketstore/internal/cache"
	"marketstore/internal/cachesync"
	"marketstore/internal/config"
	"marketstore/internal/economy"
	"marketstore/internal/events"
	"marketstore/internal/model"
	"marketstore/internal/notify"
	"marketstore/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrTooExpensive is returned when the buyer cannot afford the listing.
	ErrTooExpensive = errors.New("buyer cannot afford listing")
	// ErrDoesNotExist is returned when the listing or item is gone or
	// already taken by a concurrent operation.
	ErrDoesNotExist = errors.New("does not exist")
)

// DefaultListingDuration is how long a listing stays up when no deletion
// date is given.
const DefaultListingDuration = 7 * 24 * time.Hour

// PurchaseReceipt describes a completed sale.
type PurchaseReceipt struct {
	Listing model.Listing         `json:"listing"`
	Buyer   uuid.UUID             `json:"buyer"`
	Price   decimal.Decimal       `json:"price"`
	Tax     decimal.Decimal       `json:"tax"`
	Payout  decimal.Decimal       `json:"payout"`
	Item    model.CollectableItem `json:"item"`
}

// ListingDeps are the collaborators of ListingService.
type ListingDeps struct {
	Store      repository.DataHandler
	Caches     *cache.Market
	Propagator cachesync.Propagator
	Currency   economy.Currency
	Players    notify.Players
	History    *TransactionLogger
	Events     *events.Bus
	Messages   config.MessagesConfig
	// DefaultCurrency is assigned to new listings that name none.
	DefaultCurrency string
	Log             *zap.Logger
}

// ListingService coordinates the listing lifecycle: a listing is ACTIVE
// until it is SOLD or CANCELLED. Money movement comes first; cache and store
// side effects that follow never undo it.
type ListingService struct {
	store    repository.DataHandler
	caches   *cache.Market
	sync     cachesync.Propagator
	currency economy.Currency
	players  notify.Players
	history  *TransactionLogger
	events   *events.Bus
	msgs     config.MessagesConfig
	currID   string
	log      *zap.Logger
	now      func() time.Time
}

// NewListingService creates the lifecycle coordinator.
func NewListingService(d ListingDeps) *ListingService {
	currID := d.DefaultCurrency
	if currID == "" {
		currID = d.Currency.ID()
	}
	return &ListingService{
		store:    d.Store,
		caches:   d.Caches,
		sync:     d.Propagator,
		currency: d.Currency,
		players:  d.Players,
		history:  d.History,
		events:   d.Events,
		msgs:     d.Messages,
		currID:   currID,
		log:      d.Log.Named("listings"),
		now:      time.Now,
	}
}

// Listings returns the active listings in creation order.
func (s *ListingService) Listings() []model.Listing {
	return s.caches.Listings.All()
}

// Get returns an active listing.
func (s *ListingService) Get(id uuid.UUID) (model.Listing, error) {
	l, ok := s.caches.Listings.Get(id)
	if !ok {
		return model.Listing{}, fmt.Errorf("listing %s: %w", id, ErrDoesNotExist)
	}
	return l, nil
}

// Create validates and stores a new listing, then makes it visible.
func (s *ListingService) Create(ctx context.Context, l model.Listing) (model.Listing, error) {
	now := s.now().UnixMilli()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreationDate == 0 {
		l.CreationDate = now
	}
	if l.DeletionDate == 0 {
		l.DeletionDate = l.CreationDate + DefaultListingDuration.Milliseconds()
	}
	if l.Currency == "" {
		l.Currency = s.currID
	}
	if l.Bids == nil {
		l.Bids = []model.Bid{}
	}
	if err := l.Validate(); err != nil {
		return model.Listing{}, err
	}

	if err := s.store.Listings().Save(ctx, l); err != nil {
		return model.Listing{}, err
	}
	if err := s.sync.ListingAdded(ctx, l); err != nil {
		s.log.Error("failed to propagate new listing", zap.Stringer("listing", l.ID), zap.Error(err))
	}
	s.history.Record(ctx, l.Owner, model.ActionListingCreated, l, l.Price, nil)
	s.tell(ctx, l.Owner, s.format(s.msgs.ListingCreated, l))

	s.log.Info("listing created", zap.Stringer("listing", l.ID), zap.Stringer("owner", l.Owner))
	return l, nil
}

// Purchase sells the listing to buyer. At most one concurrent Purchase or
// Cancel of a listing succeeds in this process.
func (s *ListingService) Purchase(ctx context.Context, id, buyer uuid.UUID) (*PurchaseReceipt, error) {
	// Affordability is checked before the reservation so a buyer who
	// cannot pay is told so even while the listing is held.
	l, ok := s.caches.Listings.Get(id)
	if !ok {
		s.players.Send(buyer, s.msgs.DoesNotExist)
		return nil, ErrDoesNotExist
	}
	if !s.currency.CanAfford(buyer, l.Price) {
		s.players.Send(buyer, s.format(s.msgs.TooExpensive, l))
		return nil, ErrTooExpensive
	}
	if l, ok = s.caches.Listings.Reserve(id); !ok {
		s.players.Send(buyer, s.msgs.DoesNotExist)
		return nil, ErrDoesNotExist
	}

	payout := l.Payout()
	if err := s.currency.Withdraw(ctx, buyer, l.Price); err != nil {
		s.caches.Listings.Release(id)
		if errors.Is(err, economy.ErrInsufficientFunds) {
			s.players.Send(buyer, s.format(s.msgs.TooExpensive, l))
			return nil, ErrTooExpensive
		}
		return nil, fmt.Errorf("failed to charge buyer: %w", err)
	}
	if err := s.currency.Add(ctx, l.Owner, payout); err != nil {
		if rerr := s.currency.Add(ctx, buyer, l.Price); rerr != nil {
			s.log.Error("failed to refund buyer", zap.Stringer("buyer", buyer), zap.String("amount", l.Price.String()), zap.Error(rerr))
		}
		s.caches.Listings.Release(id)
		return nil, fmt.Errorf("failed to pay seller: %w", err)
	}

	log := s.log.With(zap.Stringer("listing", id), zap.Stringer("buyer", buyer), zap.Stringer("seller", l.Owner))

	// the row goes before the removal becomes visible to other processes
	if err := s.store.Listings().Delete(ctx, l); err != nil {
		log.Error("failed to delete sold listing", zap.Error(err))
	}
	if err := s.sync.ListingRemoved(ctx, id); err != nil {
		log.Error("failed to propagate listing removal", zap.Error(err))
	}

	item := model.CollectableItem{ID: l.ID, Owner: l.Owner, Item: l.Item, DateAdded: s.now().UnixMilli()}
	if err := s.store.CollectionBoxes().Save(ctx, model.CollectionBox{Player: buyer, Items: []model.CollectableItem{item}}); err != nil {
		log.Error("failed to deliver purchased item", zap.Error(err))
	}
	if err := s.sync.CollectionBoxUpdated(ctx, buyer, item); err != nil {
		log.Error("failed to propagate collection box update", zap.Error(err))
	}

	s.players.Send(buyer, s.format(s.msgs.NewItem, l))
	s.tell(ctx, l.Owner, s.formatAmount(s.msgs.Sold, l, payout))

	s.history.Record(ctx, l.Owner, model.ActionListingSold, l, payout, &buyer)
	s.history.Record(ctx, buyer, model.ActionListingPurchased, l, l.Price, &l.Owner)
	s.events.PurchaseCompleted(l, buyer, payout)

	log.Info("listing sold", zap.String("price", l.Price.String()), zap.String("payout", payout.String()))
	return &PurchaseReceipt{
		Listing: l,
		Buyer:   buyer,
		Price:   l.Price,
		Tax:     l.TaxAmount(),
		Payout:  payout,
		Item:    item,
	}, nil
}

// Cancel withdraws the listing and returns the item to its owner's expired
// items. A cancel by anyone but the owner is recorded as an admin cancel.
func (s *ListingService) Cancel(ctx context.Context, id, actor uuid.UUID) error {
	l, ok := s.caches.Listings.Reserve(id)
	if !ok {
		s.players.Send(actor, s.msgs.DoesNotExist)
		return ErrDoesNotExist
	}

	action, reason := model.ActionListingCancelled, events.ReasonCancelled
	var counterpart *uuid.UUID
	if actor != l.Owner {
		action, reason = model.ActionListingAdminCancelled, events.ReasonCancelledAdmin
		counterpart = &actor
		s.players.Send(actor, s.format(s.msgs.Cancelled, l))
	}
	s.tell(ctx, l.Owner, s.format(s.msgs.Cancelled, l))

	s.end(ctx, l)
	s.history.Record(ctx, l.Owner, action, l, l.Price, counterpart)
	s.events.ListingEnded(l, actor, reason)

	s.log.Info("listing cancelled", zap.Stringer("listing", id), zap.Stringer("actor", actor), zap.String("reason", string(reason)))
	return nil
}

// ExpireDue ends every listing past its deletion date, returning the items
// to their owners. It returns the number of listings ended.
func (s *ListingService) ExpireDue(ctx context.Context) int {
	now := s.now().UnixMilli()
	n := 0
	for _, l := range s.caches.Listings.All() {
		if !l.Expired(now) {
			continue
		}
		if _, ok := s.caches.Listings.Reserve(l.ID); !ok {
			continue
		}
		s.end(ctx, l)
		s.events.ListingEnded(l, l.Owner, events.ReasonExpired)
		n++
	}
	if n > 0 {
		s.log.Info("expired listings ended", zap.Int("count", n))
	}
	return n
}

// end removes a reserved listing and moves its item to the owner's expired items.
func (s *ListingService) end(ctx context.Context, l model.Listing) {
	log := s.log.With(zap.Stringer("listing", l.ID), zap.Stringer("owner", l.Owner))

	if err := s.store.Listings().Delete(ctx, l); err != nil {
		log.Error("failed to delete listing", zap.Error(err))
	}
	if err := s.sync.ListingRemoved(ctx, l.ID); err != nil {
		log.Error("failed to propagate listing removal", zap.Error(err))
	}

	item := model.CollectableItem{ID: l.ID, Owner: l.Owner, Item: l.Item, DateAdded: s.now().UnixMilli()}
	if err := s.store.ExpiredItems().Save(ctx, model.ExpiredItems{Player: l.Owner, Items: []model.CollectableItem{item}}); err != nil {
		log.Error("failed to return item to owner", zap.Error(err))
	}
	if err := s.sync.ExpiredItemsUpdated(ctx, l.Owner, item); err != nil {
		log.Error("failed to propagate expired items update", zap.Error(err))
	}
}

// Claim hands an item from one of the player's containers to the player.
// The row is marked collected and later removed by the cull.
func (s *ListingService) Claim(ctx context.Context, player uuid.UUID, c model.Container, itemID uuid.UUID) (model.CollectableItem, error) {
	containers := s.caches.CollectionBoxes
	if c == model.ContainerExpiredItems {
		containers = s.caches.ExpiredItems
	}
	item, ok := containers.Remove(player, itemID)
	if !ok {
		return model.CollectableItem{}, fmt.Errorf("item %s: %w", itemID, ErrDoesNotExist)
	}

	var err error
	if c == model.ContainerExpiredItems {
		err = s.store.ExpiredItems().DeleteSpecific(ctx, model.ExpiredItems{Player: player}, itemID)
	} else {
		err = s.store.CollectionBoxes().DeleteSpecific(ctx, model.CollectionBox{Player: player}, itemID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		// another process claimed it first
		return model.CollectableItem{}, fmt.Errorf("item %s: %w", itemID, ErrDoesNotExist)
	}
	if err != nil {
		containers.Add(player, item)
		return model.CollectableItem{}, err
	}

	if err := s.sync.ItemClaimed(ctx, c, player, itemID); err != nil {
		s.log.Error("failed to propagate claim", zap.Stringer("player", player), zap.Error(err))
	}
	s.history.Record(ctx, player, model.ActionItemClaimed, model.Listing{ID: item.ID, Item: item.Item}, decimal.Zero, nil)
	return item, nil
}

// CollectionBox returns the player's unclaimed purchases.
func (s *ListingService) CollectionBox(player uuid.UUID) model.CollectionBox {
	return model.CollectionBox{Player: player, Items: s.caches.CollectionBoxes.Items(player)}
}

// ExpiredItems returns the player's returned items.
func (s *ListingService) ExpiredItems(player uuid.UUID) model.ExpiredItems {
	return model.ExpiredItems{Player: player, Items: s.caches.ExpiredItems.Items(player)}
}

// tell reaches player here when online, otherwise through the propagator.
func (s *ListingService) tell(ctx context.Context, player uuid.UUID, text string) {
	if s.players.Send(player, text) {
		return
	}
	if err := s.sync.Notify(ctx, player, text); err != nil {
		s.log.Warn("failed to forward notification", zap.Stringer("recipient", player), zap.Error(err))
	}
}

func (s *ListingService) format(msg string, l model.Listing) string {
	return s.formatAmount(msg, l, l.Price)
}

func (s *ListingService) formatAmount(msg string, l model.Listing, amount decimal.Decimal) string {
	return config.Format(msg, l.Item, amount.String()+" "+l.Currency)
}
