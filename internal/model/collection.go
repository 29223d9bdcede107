package model

import (
	"fmt"

	"github.com/google/uuid"
)

// DummyID is the origin recorded for items migrated from rows that never stored one.
var DummyID = uuid.Nil

// Container names one of a player's item containers.
type Container string

const (
	ContainerCollectionBox Container = "collection-box"
	ContainerExpiredItems  Container = "expired-items"
)

// ParseContainer accepts the names used in routes.
func ParseContainer(s string) (Container, error) {
	switch Container(s) {
	case ContainerCollectionBox, ContainerExpiredItems:
		return Container(s), nil
	}
	return "", fmt.Errorf("unknown container %q", s)
}

// CollectableItem is a single item waiting in a player's container.
type CollectableItem struct {
	ID        uuid.UUID `json:"id"`
	Owner     uuid.UUID `json:"owner"` // where the item came from, e.g. the seller
	Item      string    `json:"item"`
	DateAdded int64     `json:"date_added"`
}

// CollectionBox holds items a player bought and has not claimed yet.
type CollectionBox struct {
	Player uuid.UUID         `json:"player"`
	Items  []CollectableItem `json:"items"`
}

// ExpiredItems holds a player's own items returned from ended listings.
type ExpiredItems struct {
	Player uuid.UUID         `json:"player"`
	Items  []CollectableItem `json:"items"`
}

// CollectionEntry is the persisted form of one collection box item.
type CollectionEntry struct {
	ID          uuid.UUID
	Owner       uuid.UUID
	Player      uuid.UUID
	Item        string
	LastUpdated int64
	DateAdded   int64
	Collected   bool
}

// ExpiredEntry is the persisted form of one expired item.
type ExpiredEntry struct {
	ID          uuid.UUID
	Player      uuid.UUID
	Item        string
	LastUpdated int64
	DateAdded   int64
	Collected   bool
}

// Collectable converts the row back into a container item.
func (e CollectionEntry) Collectable() CollectableItem {
	return CollectableItem{ID: e.ID, Owner: e.Owner, Item: e.Item, DateAdded: e.DateAdded}
}

// Collectable converts the row back into a container item.
func (e ExpiredEntry) Collectable() CollectableItem {
	return CollectableItem{ID: e.ID, Owner: e.Player, Item: e.Item, DateAdded: e.DateAdded}
}

// Find returns the item with the given id.
func (b *CollectionBox) Find(id uuid.UUID) (CollectableItem, bool) {
	return find(b.Items, id)
}

// Add appends item, replacing any item with the same id.
func (b *CollectionBox) Add(item CollectableItem) {
	b.Items = upsert(b.Items, item)
}

// Remove drops the item with the given id and reports whether it was present.
func (b *CollectionBox) Remove(id uuid.UUID) bool {
	var ok bool
	b.Items, ok = remove(b.Items, id)
	return ok
}

// Find returns the item with the given id.
func (e *ExpiredItems) Find(id uuid.UUID) (CollectableItem, bool) {
	return find(e.Items, id)
}

// Add appends item, replacing any item with the same id.
func (e *ExpiredItems) Add(item CollectableItem) {
	e.Items = upsert(e.Items, item)
}

// Remove drops the item with the given id and reports whether it was present.
func (e *ExpiredItems) Remove(id uuid.UUID) bool {
	var ok bool
	e.Items, ok = remove(e.Items, id)
	return ok
}

func find(items []CollectableItem, id uuid.UUID) (CollectableItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return CollectableItem{}, false
}

func upsert(items []CollectableItem, item CollectableItem) []CollectableItem {
	for i, it := range items {
		if it.ID == item.ID {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func remove(items []CollectableItem, id uuid.UUID) ([]CollectableItem, bool) {
	for i, it := range items {
		if it.ID == id {
			return append(items[:i:i], items[i+1:]...), true
		}
	}
	return items, false
}
