package migration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"marketstore/internal/model"

	"github.com/google/uuid"
)

// SyntheticAge is how far in the past migrated rows are stamped as last updated.
const SyntheticAge = 48 * time.Hour

// legacyNamespace seeds the ids of migrated v1 items, so re-running a failed
// migration rewrites the same rows instead of duplicating them.
var legacyNamespace = uuid.MustParse("6f1f6f3a-3b7e-4a53-9a51-3c1c2f0e8b10")

// legacyItem is one element of the JSON list stored by v2 containers.
type legacyItem struct {
	ID        uuid.UUID       `json:"id"`
	Owner     uuid.UUID       `json:"owner"`
	ItemStack json.RawMessage `json:"itemStack"`
	DateAdded int64           `json:"dateAdded"`
}

// id is the item's recorded id, or a derived one when the row never had it.
func (it legacyItem) id(table string, ordinal int, player uuid.UUID) uuid.UUID {
	if it.ID != uuid.Nil {
		return it.ID
	}
	return legacyID(table, ordinal, player, it.DateAdded)
}

func legacyID(table string, ordinal int, player uuid.UUID, dateAdded int64) uuid.UUID {
	key := table + "/" + strconv.Itoa(ordinal) + "/" + player.String() + "/" + strconv.FormatInt(dateAdded, 10)
	return uuid.NewSHA1(legacyNamespace, []byte(key))
}

// TransformListingV1 converts a row of the v1 listings table. v1 had no
// currency column, so defaultCurrency is assigned.
func TransformListingV1(row LegacyRow, defaultCurrency string, now time.Time) (model.Listing, error) {
	var (
		l   model.Listing
		err error
	)
	if l.ID, err = row.UUID("uuid"); err != nil {
		return l, err
	}
	if l.Owner, err = row.UUID("ownerUUID"); err != nil {
		return l, err
	}
	if l.OwnerName, err = row.String("ownerName"); err != nil {
		return l, err
	}
	if l.Item, err = row.String("itemStack"); err != nil {
		return l, err
	}
	if l.Category, err = row.String("category"); err != nil {
		return l, err
	}
	if l.Price, err = row.Decimal("price"); err != nil {
		return l, err
	}
	if l.Tax, err = row.Decimal("tax"); err != nil {
		return l, err
	}
	if l.CreationDate, err = row.Int64("creationDate"); err != nil {
		return l, err
	}
	if row.Has("biddable") {
		if l.Biddable, err = row.Bool("biddable"); err != nil {
			return l, err
		}
	}

	l.Currency = defaultCurrency
	l.DeletionDate = max(now.UnixMilli(), l.CreationDate)
	if row.Has("deletionDate") {
		if l.DeletionDate, err = row.Int64("deletionDate"); err != nil {
			return l, err
		}
	}
	l.Bids = []model.Bid{}
	return l, l.Validate()
}

// TransformCollectionBoxV1 converts one row of the v1 collection_box table.
// v1 stored neither an item id nor the seller.
func TransformCollectionBoxV1(row LegacyRow, ordinal int, now time.Time) (model.CollectionEntry, error) {
	var (
		e   model.CollectionEntry
		err error
	)
	if e.Player, err = row.UUID("playerUUID"); err != nil {
		return e, err
	}
	if e.Item, err = row.String("itemStack"); err != nil {
		return e, err
	}
	if e.DateAdded, err = row.Int64("dateAdded"); err != nil {
		return e, err
	}
	e.ID = legacyID(LegacyCollectionBox, ordinal, e.Player, e.DateAdded)
	e.Owner = model.DummyID
	e.LastUpdated = now.Add(-SyntheticAge).UnixMilli()
	return e, nil
}

// TransformCollectionBoxV2 fans a v2 collection_boxV2 row out into one entry
// per embedded item. Each entry keeps its own id, seller and date; the
// purchaser and the synthetic timestamp are shared.
func TransformCollectionBoxV2(row LegacyRow, encode ItemEncoder, now time.Time) ([]model.CollectionEntry, error) {
	player, items, err := decodeV2(row)
	if err != nil {
		return nil, err
	}
	stamp := now.Add(-SyntheticAge).UnixMilli()
	out := make([]model.CollectionEntry, 0, len(items))
	for i, it := range items {
		payload, err := encode(it.ItemStack)
		if err != nil {
			return nil, fmt.Errorf("item %d of %s: %w", i, player, err)
		}
		out = append(out, model.CollectionEntry{
			ID:          it.id(LegacyCollectionBoxV2, i, player),
			Owner:       it.Owner,
			Player:      player,
			Item:        payload,
			LastUpdated: stamp,
			DateAdded:   it.DateAdded,
		})
	}
	return out, nil
}

// TransformExpiredItemsV1 converts one row of the v1 expired_items table.
func TransformExpiredItemsV1(row LegacyRow, ordinal int, now time.Time) (model.ExpiredEntry, error) {
	var (
		e   model.ExpiredEntry
		err error
	)
	if e.Player, err = row.UUID("playerUUID"); err != nil {
		return e, err
	}
	if e.Item, err = row.String("itemStack"); err != nil {
		return e, err
	}
	if e.DateAdded, err = row.Int64("dateAdded"); err != nil {
		return e, err
	}
	e.ID = legacyID(LegacyExpiredItems, ordinal, e.Player, e.DateAdded)
	e.LastUpdated = now.Add(-SyntheticAge).UnixMilli()
	return e, nil
}

// TransformExpiredItemsV2 fans a v2 expired_itemsV2 row out into one entry per item.
func TransformExpiredItemsV2(row LegacyRow, encode ItemEncoder, now time.Time) ([]model.ExpiredEntry, error) {
	player, items, err := decodeV2(row)
	if err != nil {
		return nil, err
	}
	stamp := now.Add(-SyntheticAge).UnixMilli()
	out := make([]model.ExpiredEntry, 0, len(items))
	for i, it := range items {
		payload, err := encode(it.ItemStack)
		if err != nil {
			return nil, fmt.Errorf("item %d of %s: %w", i, player, err)
		}
		out = append(out, model.ExpiredEntry{
			ID:          it.id(LegacyExpiredItemsV2, i, player),
			Player:      player,
			Item:        payload,
			LastUpdated: stamp,
			DateAdded:   it.DateAdded,
		})
	}
	return out, nil
}

func decodeV2(row LegacyRow) (uuid.UUID, []legacyItem, error) {
	player, err := row.UUID("playerUUID")
	if err != nil {
		return uuid.Nil, nil, err
	}
	raw, err := row.String("items")
	if err != nil {
		return uuid.Nil, nil, err
	}
	var items []legacyItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return uuid.Nil, nil, fmt.Errorf("items of %s: %w", player, err)
	}
	return player, items, nil
}
