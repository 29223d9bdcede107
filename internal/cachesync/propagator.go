package cachesync

import (
	"context"
	"fmt"

	"marketstore/internal/broker"
	"marketstore/internal/cache"
	"marketstore/internal/model"
	"marketstore/internal/notify"
	"marketstore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode selects how cache changes reach other processes.
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeFederated Mode = "federated"
)

// Propagator applies cache changes made by a lifecycle operation, locally
// and, when federated, on every other process sharing the store.
type Propagator interface {
	ListingAdded(ctx context.Context, l model.Listing) error
	ListingRemoved(ctx context.Context, id uuid.UUID) error
	CollectionBoxUpdated(ctx context.Context, player uuid.UUID, item model.CollectableItem) error
	ExpiredItemsUpdated(ctx context.Context, player uuid.UUID, item model.CollectableItem) error
	// ItemClaimed drops a consumed item from the player's container.
	ItemClaimed(ctx context.Context, c model.Container, player, item uuid.UUID) error
	// Notify reaches a player that is not connected to this process.
	Notify(ctx context.Context, recipient uuid.UUID, text string) error
	Mode() Mode
	Close() error
}

// Options wires a propagator.
type Options struct {
	Caches  *cache.Market
	Store   repository.DataHandler
	Players notify.Players
	// Broker is required for ModeFederated.
	Broker broker.Broker
	Origin string
	Log    *zap.Logger
}

// New returns the strategy for mode. The choice is made once at startup.
func New(mode Mode, opts Options) (Propagator, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	switch mode {
	case ModeLocal, "":
		return NewLocal(opts.Caches, opts.Log), nil
	case ModeFederated:
		if opts.Broker == nil {
			return nil, fmt.Errorf("federated cache sync requires a broker")
		}
		if opts.Store == nil || opts.Players == nil {
			return nil, fmt.Errorf("federated cache sync requires a store and a player registry")
		}
		return NewFederated(opts), nil
	}
	return nil, fmt.Errorf("unknown cache sync mode %q", mode)
}
