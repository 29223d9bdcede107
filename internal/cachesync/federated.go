package cachesync

import (
	"context"
	"fmt"
	"sync"

	"marketstore/internal/broker"
	"marketstore/internal/cache"
	"marketstore/internal/model"
	"marketstore/internal/notify"
	"marketstore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Federated applies changes locally and broadcasts them. Receivers treat a
// message as a change signal and reload the aggregate from the store.
type Federated struct {
	local   *Local
	caches  *cache.Market
	store   repository.DataHandler
	players notify.Players
	broker  broker.Broker
	origin  string
	group   singleflight.Group
	log     *zap.Logger

	closeOnce sync.Once
}

var _ Propagator = (*Federated)(nil)

// NewFederated creates a federated propagator. Call Run to start receiving.
func NewFederated(opts Options) *Federated {
	origin := opts.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	log := opts.Log.Named("cachesync").With(zap.String("origin", origin))
	return &Federated{
		local:   &Local{caches: opts.Caches, log: log},
		caches:  opts.Caches,
		store:   opts.Store,
		players: opts.Players,
		broker:  opts.Broker,
		origin:  origin,
		log:     log,
	}
}

func (p *Federated) Mode() Mode { return ModeFederated }

// Origin identifies this process on the wire.
func (p *Federated) Origin() string { return p.origin }

func (p *Federated) ListingAdded(ctx context.Context, l model.Listing) error {
	p.local.ListingAdded(ctx, l)
	return p.publish(ctx, broker.NewIDMessage(broker.ListingAdd, l.ID, p.origin))
}

func (p *Federated) ListingRemoved(ctx context.Context, id uuid.UUID) error {
	p.local.ListingRemoved(ctx, id)
	return p.publish(ctx, broker.NewIDMessage(broker.ListingRemove, id, p.origin))
}

func (p *Federated) CollectionBoxUpdated(ctx context.Context, player uuid.UUID, item model.CollectableItem) error {
	p.local.CollectionBoxUpdated(ctx, player, item)
	return p.publish(ctx, broker.NewIDMessage(broker.CollectionBoxUpdate, player, p.origin))
}

func (p *Federated) ExpiredItemsUpdated(ctx context.Context, player uuid.UUID, item model.CollectableItem) error {
	p.local.ExpiredItemsUpdated(ctx, player, item)
	return p.publish(ctx, broker.NewIDMessage(broker.ExpiredListingsUpdate, player, p.origin))
}

func (p *Federated) ItemClaimed(ctx context.Context, c model.Container, player, item uuid.UUID) error {
	p.local.ItemClaimed(ctx, c, player, item)
	t := broker.CollectionBoxUpdate
	if c == model.ContainerExpiredItems {
		t = broker.ExpiredListingsUpdate
	}
	return p.publish(ctx, broker.NewIDMessage(t, player, p.origin))
}

func (p *Federated) Notify(ctx context.Context, recipient uuid.UUID, text string) error {
	return p.publish(ctx, broker.NewNotification(recipient, text, p.origin))
}

func (p *Federated) publish(ctx context.Context, m broker.Message) error {
	if err := p.broker.Publish(ctx, m); err != nil {
		return fmt.Errorf("failed to propagate %s: %w", m.Type, err)
	}
	return nil
}

// Run receives messages from other processes until ctx is done.
func (p *Federated) Run(ctx context.Context) error {
	p.log.Info("cache sync subscribed", zap.String("broker", p.broker.Name()))
	return p.broker.Subscribe(ctx, p.Handle)
}

// Handle applies one received message. Messages sent by this process were
// already applied when they were published and are ignored.
func (p *Federated) Handle(ctx context.Context, m broker.Message) error {
	if m.Origin == p.origin {
		return nil
	}

	if m.Type == broker.Notification {
		n := m.Payload.Notification
		if n == nil {
			return fmt.Errorf("%s without notification payload", m.Type)
		}
		if p.players.Online(n.Recipient) {
			p.players.Send(n.Recipient, n.Text)
		}
		return nil
	}

	if !m.Type.Known() {
		p.log.Warn("dropping message of unknown type", zap.String("type", string(m.Type)))
		return nil
	}
	if m.Payload.ID == nil {
		return fmt.Errorf("%s without id", m.Type)
	}
	id := *m.Payload.ID

	switch m.Type {
	case broker.ListingRemove:
		p.caches.Listings.Remove(id)
		return nil
	case broker.ListingAdd:
		return p.refresh(ctx, "listing:"+id.String(), func(ctx context.Context) error {
			return p.reloadListing(ctx, id)
		})
	case broker.CollectionBoxUpdate:
		return p.refresh(ctx, "box:"+id.String(), func(ctx context.Context) error {
			box, _, err := p.store.CollectionBoxes().Get(ctx, id)
			if err != nil {
				return err
			}
			p.caches.CollectionBoxes.Set(id, box.Items)
			return nil
		})
	case broker.ExpiredListingsUpdate:
		return p.refresh(ctx, "expired:"+id.String(), func(ctx context.Context) error {
			expired, _, err := p.store.ExpiredItems().Get(ctx, id)
			if err != nil {
				return err
			}
			p.caches.ExpiredItems.Set(id, expired.Items)
			return nil
		})
	}
	return nil
}

func (p *Federated) reloadListing(ctx context.Context, id uuid.UUID) error {
	l, found, err := p.store.Listings().Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		p.caches.Listings.Remove(id)
		return nil
	}
	p.caches.Listings.Put(l)
	return nil
}

// refresh coalesces concurrent reloads of one key.
func (p *Federated) refresh(ctx context.Context, key string, fn func(context.Context) error) error {
	_, err, _ := p.group.Do(key, func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", key, err)
	}
	return nil
}

func (p *Federated) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.broker.Close()
	})
	return err
}
