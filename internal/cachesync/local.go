package cachesync

import (
	"context"

	"marketstore/internal/cache"
	"marketstore/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Local mutates this process's caches directly. It is the only strategy
// needed when one process owns the store.
type Local struct {
	caches *cache.Market
	log    *zap.Logger
}

var _ Propagator = (*Local)(nil)

// NewLocal creates a propagator over caches.
func NewLocal(caches *cache.Market, log *zap.Logger) *Local {
	return &Local{caches: caches, log: log.Named("cachesync")}
}

func (p *Local) Mode() Mode { return ModeLocal }

func (p *Local) ListingAdded(ctx context.Context, l model.Listing) error {
	p.caches.Listings.Put(l)
	return nil
}

func (p *Local) ListingRemoved(ctx context.Context, id uuid.UUID) error {
	p.caches.Listings.Remove(id)
	return nil
}

func (p *Local) CollectionBoxUpdated(ctx context.Context, player uuid.UUID, item model.CollectableItem) error {
	p.caches.CollectionBoxes.Add(player, item)
	return nil
}

func (p *Local) ExpiredItemsUpdated(ctx context.Context, player uuid.UUID, item model.CollectableItem) error {
	p.caches.ExpiredItems.Add(player, item)
	return nil
}

func (p *Local) ItemClaimed(ctx context.Context, c model.Container, player, item uuid.UUID) error {
	p.containers(c).Remove(player, item)
	return nil
}

// Notify has nobody to forward to: the recipient is offline and there are
// no other processes.
func (p *Local) Notify(ctx context.Context, recipient uuid.UUID, text string) error {
	p.log.Debug("recipient offline, notification dropped", zap.Stringer("recipient", recipient))
	return nil
}

func (p *Local) Close() error { return nil }

func (p *Local) containers(c model.Container) *cache.Containers {
	if c == model.ContainerExpiredItems {
		return p.caches.ExpiredItems
	}
	return p.caches.CollectionBoxes
}
