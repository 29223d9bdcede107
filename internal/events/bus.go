package events

import (
	"context"
	"sync"
	"time"

	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event type constants, domain.action.
const (
	EventTypePurchaseCompleted = "listing.purchased"
	EventTypeListingEnded      = "listing.ended"
)

// EndReason explains why a listing left the market without a sale.
type EndReason string

const (
	ReasonCancelled      EndReason = "CANCELLED"
	ReasonCancelledAdmin EndReason = "CANCELLED_ADMIN"
	ReasonExpired        EndReason = "EXPIRED"
)

// Event is anything published on the bus.
type Event interface {
	EventType() string
}

// PurchaseCompleted is published after a sale has been paid and delivered.
type PurchaseCompleted struct {
	Listing    model.Listing
	Buyer      uuid.UUID
	Payout     decimal.Decimal
	OccurredAt time.Time
}

func (PurchaseCompleted) EventType() string { return EventTypePurchaseCompleted }

// ListingEnded is published when a listing is withdrawn.
type ListingEnded struct {
	Listing    model.Listing
	Actor      uuid.UUID
	Reason     EndReason
	OccurredAt time.Time
}

func (ListingEnded) EventType() string { return EventTypeListingEnded }

// Handler reacts to an event. Errors are logged.
type Handler func(ctx context.Context, e Event) error

// Bus dispatches events to in-process subscribers, each on its own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

// NewBus creates a bus.
func NewBus(log *zap.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.Named("events"),
	}
}

// Subscribe registers h for eventType.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish hands e to its subscribers without waiting for them.
func (b *Bus) Publish(e Event) {
	if b.ctx.Err() != nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers[e.EventType()]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked", zap.String("type", e.EventType()), zap.Any("panic", r))
				}
			}()
			if err := h(b.ctx, e); err != nil {
				b.log.Warn("event handler failed", zap.String("type", e.EventType()), zap.Error(err))
			}
		}(h)
	}
}

// PurchaseCompleted publishes a PurchaseCompleted event.
func (b *Bus) PurchaseCompleted(l model.Listing, buyer uuid.UUID, payout decimal.Decimal) {
	b.Publish(PurchaseCompleted{Listing: l, Buyer: buyer, Payout: payout, OccurredAt: time.Now()})
}

// ListingEnded publishes a ListingEnded event.
func (b *Bus) ListingEnded(l model.Listing, actor uuid.UUID, reason EndReason) {
	b.Publish(ListingEnded{Listing: l, Actor: actor, Reason: reason, OccurredAt: time.Now()})
}

// Wait blocks until every running handler returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close stops accepting events and waits for running handlers.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
