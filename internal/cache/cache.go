package cache

import (
	"cmp"
	"slices"
	"sync"

	"marketstore/internal/model"

	"github.com/google/uuid"
)

// Market groups the per-process caches. Entries live until removed; nothing
// expires on its own.
type Market struct {
	Listings        *Listings
	CollectionBoxes *Containers
	ExpiredItems    *Containers
}

// NewMarket creates empty caches.
func NewMarket() *Market {
	return &Market{
		Listings:        NewListings(),
		CollectionBoxes: NewContainers(),
		ExpiredItems:    NewContainers(),
	}
}

// Listings is the in-memory catalog of active listings.
type Listings struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]model.Listing
	reserved map[uuid.UUID]struct{}
}

// NewListings creates an empty listing cache.
func NewListings() *Listings {
	return &Listings{
		entries:  make(map[uuid.UUID]model.Listing),
		reserved: make(map[uuid.UUID]struct{}),
	}
}

// Get returns the listing with id.
func (c *Listings) Get(id uuid.UUID) (model.Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.entries[id]
	if !ok {
		return model.Listing{}, false
	}
	l.Bids = slices.Clone(l.Bids)
	return l, true
}

// Put stores l, replacing any cached version.
func (c *Listings) Put(l model.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l.Bids = slices.Clone(l.Bids)
	c.entries[l.ID] = l
}

// Remove drops the listing and any reservation on it. It reports whether
// the listing was cached.
func (c *Listings) Remove(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[id]
	delete(c.entries, id)
	delete(c.reserved, id)
	return ok
}

// Reserve claims the listing for one purchase or cancel. It fails when the
// listing is not cached or another caller already holds it.
func (c *Listings) Reserve(id uuid.UUID) (model.Listing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.entries[id]
	if !ok {
		return model.Listing{}, false
	}
	if _, taken := c.reserved[id]; taken {
		return model.Listing{}, false
	}
	c.reserved[id] = struct{}{}
	return l, true
}

// Release gives up a reservation without removing the listing.
func (c *Listings) Release(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.reserved, id)
}

// All returns the cached listings that are not reserved.
func (c *Listings) All() []model.Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Listing, 0, len(c.entries))
	for id, l := range c.entries {
		if _, taken := c.reserved[id]; taken {
			continue
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b model.Listing) int {
		return cmp.Compare(a.CreationDate, b.CreationDate)
	})
	return out
}

// Len returns the number of cached listings.
func (c *Listings) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Replace swaps the whole catalog, dropping reservations.
func (c *Listings) Replace(listings []model.Listing) {
	entries := make(map[uuid.UUID]model.Listing, len(listings))
	for _, l := range listings {
		entries[l.ID] = l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.reserved = make(map[uuid.UUID]struct{})
}

// Containers caches the claimable items of each player, for either the
// collection box or the expired items.
type Containers struct {
	mu      sync.RWMutex
	players map[uuid.UUID][]model.CollectableItem
}

// NewContainers creates an empty container cache.
func NewContainers() *Containers {
	return &Containers{players: make(map[uuid.UUID][]model.CollectableItem)}
}

// Items returns a copy of the player's items.
func (c *Containers) Items(player uuid.UUID) []model.CollectableItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.players[player])
}

// Set replaces the player's items. An empty set drops the player.
func (c *Containers) Set(player uuid.UUID, items []model.CollectableItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(items) == 0 {
		delete(c.players, player)
		return
	}
	c.players[player] = slices.Clone(items)
}

// Add inserts item, replacing an item with the same id.
func (c *Containers) Add(player uuid.UUID, item model.CollectableItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := c.players[player]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return
		}
	}
	c.players[player] = append(items, item)
}

// Remove drops the item with id and reports whether it was present.
func (c *Containers) Remove(player uuid.UUID, id uuid.UUID) (model.CollectableItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := c.players[player]
	for i := range items {
		if items[i].ID != id {
			continue
		}
		it := items[i]
		items = slices.Delete(items, i, i+1)
		if len(items) == 0 {
			delete(c.players, player)
		} else {
			c.players[player] = items
		}
		return it, true
	}
	return model.CollectableItem{}, false
}

// Players returns the number of players with at least one item.
func (c *Containers) Players() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.players)
}

// Count returns the total number of cached items.
func (c *Containers) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, items := range c.players {
		n += len(items)
	}
	return n
}
