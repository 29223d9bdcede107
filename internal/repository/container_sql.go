package repository

import (
	"context"
	"fmt"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"github.com/google/uuid"
)

const (
	collectionTable = "items"
	expiredTable    = "expired"
)

// containerTable stores one row per claimable item. Removing an item marks
// the row collected rather than deleting it; the cull removes it later.
type containerTable struct {
	pool      *database.Pool
	dialect   database.Dialect
	table     string
	columns   []string
	withOwner bool
	stmts     map[Statement]string
}

func newContainerTable(pool *database.Pool, table string, withOwner bool) *containerTable {
	d := pool.Dialect()
	cols := []string{"id", "owner", "player", "item", "last_updated", "date_added", "collected"}
	if !withOwner {
		cols = []string{"id", "player", "item", "last_updated", "date_added", "collected"}
	}
	soft := []string{"collected", "last_updated"}
	return &containerTable{
		pool:      pool,
		dialect:   d,
		table:     table,
		columns:   cols,
		withOwner: withOwner,
		stmts: map[Statement]string{
			StmtInsert:         d.Upsert(table, cols, []string{"id"}),
			StmtUpdate:         d.Update(table, cols[1:], "id"),
			StmtDelete:         d.Update(table, soft, "player"),
			StmtDeleteSpecific: d.Update(table, soft, "player", "id", "collected"),
			StmtSelectOne:      d.Select(table, cols, "player", "collected") + " ORDER BY date_added",
			StmtSelectAll:      d.Select(table, cols, "collected") + " ORDER BY player, date_added",
		},
	}
}

func (t *containerTable) bind(e model.CollectionEntry) []any {
	if t.withOwner {
		return []any{e.ID, e.Owner, e.Player, e.Item, e.LastUpdated, e.DateAdded, e.Collected}
	}
	return []any{e.ID, e.Player, e.Item, e.LastUpdated, e.DateAdded, e.Collected}
}

func (t *containerTable) scan(s rowScanner) (model.CollectionEntry, error) {
	var e model.CollectionEntry
	if t.withOwner {
		err := s.Scan(&e.ID, &e.Owner, &e.Player, &e.Item, &e.LastUpdated, &e.DateAdded, &e.Collected)
		return e, err
	}
	err := s.Scan(&e.ID, &e.Player, &e.Item, &e.LastUpdated, &e.DateAdded, &e.Collected)
	e.Owner = e.Player
	return e, err
}

func (t *containerTable) items(ctx context.Context, player uuid.UUID) ([]model.CollectableItem, error) {
	rows, err := queryRows(ctx, t.pool, "failed to get "+t.table, t.stmts[StmtSelectOne], t.scan, player, false)
	if err != nil {
		return nil, err
	}
	items := make([]model.CollectableItem, len(rows))
	for i, r := range rows {
		items[i] = r.Collectable()
	}
	return items, nil
}

// all groups every uncollected row by player, preserving first-seen order.
func (t *containerTable) all(ctx context.Context) ([]uuid.UUID, map[uuid.UUID][]model.CollectableItem, error) {
	rows, err := queryRows(ctx, t.pool, "failed to get all "+t.table, t.stmts[StmtSelectAll], t.scan, false)
	if err != nil {
		return nil, nil, err
	}
	var order []uuid.UUID
	grouped := make(map[uuid.UUID][]model.CollectableItem)
	for _, r := range rows {
		if _, ok := grouped[r.Player]; !ok {
			order = append(order, r.Player)
		}
		grouped[r.Player] = append(grouped[r.Player], r.Collectable())
	}
	return order, grouped, nil
}

func (t *containerTable) save(ctx context.Context, player uuid.UUID, items []model.CollectableItem) error {
	now := time.Now().UnixMilli()
	batch := make([][]any, len(items))
	for i, it := range items {
		batch[i] = t.bind(model.CollectionEntry{
			ID:          it.ID,
			Owner:       it.Owner,
			Player:      player,
			Item:        it.Item,
			LastUpdated: now,
			DateAdded:   it.DateAdded,
		})
	}
	return execBatch(ctx, t.pool, "failed to save "+t.table, t.stmts[StmtInsert], batch)
}

func (t *containerTable) update(ctx context.Context, player uuid.UUID, items []model.CollectableItem, fields []string) error {
	if len(fields) == 0 {
		return t.save(ctx, player, items)
	}
	for _, f := range fields {
		if f != "item" && f != "date_added" && (f != "owner" || !t.withOwner) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, t.table, f)
		}
	}
	query := t.dialect.Update(t.table, append(append([]string{}, fields...), "last_updated"), "player", "id")
	now := time.Now().UnixMilli()
	batch := make([][]any, len(items))
	for i, it := range items {
		args := make([]any, 0, len(fields)+3)
		for _, f := range fields {
			switch f {
			case "item":
				args = append(args, it.Item)
			case "date_added":
				args = append(args, it.DateAdded)
			case "owner":
				args = append(args, it.Owner)
			}
		}
		batch[i] = append(args, now, player, it.ID)
	}
	return execBatch(ctx, t.pool, "failed to update "+t.table, query, batch)
}

func (t *containerTable) markCollected(ctx context.Context, player uuid.UUID) error {
	_, err := execStmt(ctx, t.pool, "failed to clear "+t.table, t.stmts[StmtDelete], true, time.Now().UnixMilli(), player)
	return err
}

func (t *containerTable) markItemCollected(ctx context.Context, player uuid.UUID, selector any) error {
	id, err := itemSelector(selector)
	if err != nil {
		return err
	}
	n, err := execStmt(ctx, t.pool, "failed to collect item from "+t.table, t.stmts[StmtDeleteSpecific], true, time.Now().UnixMilli(), player, id, false)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: item %s of %s in %s", ErrNotFound, id, player, t.table)
	}
	return nil
}

// CollectionBoxSQL stores collection boxes in the items table.
type CollectionBoxSQL struct {
	t *containerTable
}

var (
	_ Dao[model.CollectionBox]      = (*CollectionBoxSQL)(nil)
	_ SQLDao[model.CollectionEntry] = (*CollectionBoxSQL)(nil)
	_ Dao[model.ExpiredItems]       = (*ExpiredItemsSQL)(nil)
	_ SQLDao[model.ExpiredEntry]    = (*ExpiredItemsSQL)(nil)
)

// NewCollectionBoxSQL builds the collection box statements for the pool's dialect.
func NewCollectionBoxSQL(pool *database.Pool) *CollectionBoxSQL {
	return &CollectionBoxSQL{t: newContainerTable(pool, collectionTable, true)}
}

func (r *CollectionBoxSQL) SQL(s Statement) string { return r.t.stmts[s] }

func (r *CollectionBoxSQL) Bind(e model.CollectionEntry) ([]any, error) { return r.t.bind(e), nil }

// Get loads the unclaimed items bought by player.
func (r *CollectionBoxSQL) Get(ctx context.Context, player uuid.UUID) (model.CollectionBox, bool, error) {
	items, err := r.t.items(ctx, player)
	if err != nil {
		return model.CollectionBox{}, false, err
	}
	return model.CollectionBox{Player: player, Items: items}, len(items) > 0, nil
}

func (r *CollectionBoxSQL) GetAll(ctx context.Context) ([]model.CollectionBox, error) {
	order, grouped, err := r.t.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CollectionBox, len(order))
	for i, p := range order {
		out[i] = model.CollectionBox{Player: p, Items: grouped[p]}
	}
	return out, nil
}

// Save upserts every item of b as a row owned by b.Player.
func (r *CollectionBoxSQL) Save(ctx context.Context, b model.CollectionBox) error {
	return r.t.save(ctx, b.Player, b.Items)
}

// Update rewrites item, owner or date_added of every item of b.
func (r *CollectionBoxSQL) Update(ctx context.Context, b model.CollectionBox, fields ...string) error {
	return r.t.update(ctx, b.Player, b.Items, fields)
}

// Delete marks every item of b.Player collected.
func (r *CollectionBoxSQL) Delete(ctx context.Context, b model.CollectionBox) error {
	return r.t.markCollected(ctx, b.Player)
}

// DeleteSpecific marks the item picked by selector (an id or a CollectableItem)
// collected. It returns ErrNotFound when the item is missing or already collected.
func (r *CollectionBoxSQL) DeleteSpecific(ctx context.Context, b model.CollectionBox, selector any) error {
	return r.t.markItemCollected(ctx, b.Player, selector)
}

// ExpiredItemsSQL stores returned items in the expired table.
type ExpiredItemsSQL struct {
	t *containerTable
}

// NewExpiredItemsSQL builds the expired item statements for the pool's dialect.
func NewExpiredItemsSQL(pool *database.Pool) *ExpiredItemsSQL {
	return &ExpiredItemsSQL{t: newContainerTable(pool, expiredTable, false)}
}

func (r *ExpiredItemsSQL) SQL(s Statement) string { return r.t.stmts[s] }

func (r *ExpiredItemsSQL) Bind(e model.ExpiredEntry) ([]any, error) {
	return r.t.bind(model.CollectionEntry{
		ID:          e.ID,
		Player:      e.Player,
		Item:        e.Item,
		LastUpdated: e.LastUpdated,
		DateAdded:   e.DateAdded,
		Collected:   e.Collected,
	}), nil
}

func (r *ExpiredItemsSQL) Get(ctx context.Context, player uuid.UUID) (model.ExpiredItems, bool, error) {
	items, err := r.t.items(ctx, player)
	if err != nil {
		return model.ExpiredItems{}, false, err
	}
	return model.ExpiredItems{Player: player, Items: items}, len(items) > 0, nil
}

func (r *ExpiredItemsSQL) GetAll(ctx context.Context) ([]model.ExpiredItems, error) {
	order, grouped, err := r.t.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExpiredItems, len(order))
	for i, p := range order {
		out[i] = model.ExpiredItems{Player: p, Items: grouped[p]}
	}
	return out, nil
}

func (r *ExpiredItemsSQL) Save(ctx context.Context, e model.ExpiredItems) error {
	return r.t.save(ctx, e.Player, e.Items)
}

func (r *ExpiredItemsSQL) Update(ctx context.Context, e model.ExpiredItems, fields ...string) error {
	return r.t.update(ctx, e.Player, e.Items, fields)
}

func (r *ExpiredItemsSQL) Delete(ctx context.Context, e model.ExpiredItems) error {
	return r.t.markCollected(ctx, e.Player)
}

func (r *ExpiredItemsSQL) DeleteSpecific(ctx context.Context, e model.ExpiredItems, selector any) error {
	return r.t.markItemCollected(ctx, e.Player, selector)
}
