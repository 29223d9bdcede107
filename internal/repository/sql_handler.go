package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"go.uber.org/zap"
)

// SQLHandler serves every entity from one relational pool.
type SQLHandler struct {
	pool     *database.Pool
	registry *Registry
	log      *zap.Logger

	listings *ListingSQL
	boxes    *CollectionBoxSQL
	expired  *ExpiredItemsSQL
	history  *HistorySQL
}

var _ DataHandler = (*SQLHandler)(nil)

// NewSQLHandler builds and registers the relational Daos for pool.
func NewSQLHandler(pool *database.Pool, log *zap.Logger) *SQLHandler {
	h := &SQLHandler{
		pool:     pool,
		registry: NewRegistry(),
		log:      log.Named("store"),
		listings: NewListingSQL(pool),
		boxes:    NewCollectionBoxSQL(pool),
		expired:  NewExpiredItemsSQL(pool),
		history:  NewHistorySQL(pool),
	}
	Register[model.Listing](h.registry, EntityListing, h.listings)
	Register[model.CollectionBox](h.registry, EntityCollectionBox, h.boxes)
	Register[model.ExpiredItems](h.registry, EntityExpiredItems, h.expired)
	Register[model.History](h.registry, EntityHistory, h.history)
	return h
}

func (h *SQLHandler) Type() database.DatabaseType { return h.pool.Dialect().Type }

func (h *SQLHandler) Registry() *Registry { return h.registry }

// Pool exposes the underlying pool to the migration engine.
func (h *SQLHandler) Pool() *database.Pool { return h.pool }

// ListingSQL returns the relational listing Dao with its statement text.
func (h *SQLHandler) ListingSQL() *ListingSQL { return h.listings }

// CollectionBoxSQL returns the relational collection box Dao.
func (h *SQLHandler) CollectionBoxSQL() *CollectionBoxSQL { return h.boxes }

// ExpiredItemsSQL returns the relational expired items Dao.
func (h *SQLHandler) ExpiredItemsSQL() *ExpiredItemsSQL { return h.expired }

func (h *SQLHandler) Listings() Dao[model.Listing] {
	return Lookup[model.Listing](h.registry, EntityListing)
}

func (h *SQLHandler) CollectionBoxes() Dao[model.CollectionBox] {
	return Lookup[model.CollectionBox](h.registry, EntityCollectionBox)
}

func (h *SQLHandler) ExpiredItems() Dao[model.ExpiredItems] {
	return Lookup[model.ExpiredItems](h.registry, EntityExpiredItems)
}

func (h *SQLHandler) History() Dao[model.History] {
	return Lookup[model.History](h.registry, EntityHistory)
}

// Cull deletes collected rows of both containers last updated before olderThan.
func (h *SQLHandler) Cull(ctx context.Context, olderThan time.Time) (int64, error) {
	d := h.pool.Dialect()
	cutoff := olderThan.UnixMilli()
	var total int64

	err := h.pool.WithTx(ctx, "failed to cull collected items", func(ctx context.Context, tx *sql.Tx) error {
		for _, table := range []string{collectionTable, expiredTable} {
			sctx, cancel := h.pool.Bound(ctx)
			res, err := tx.ExecContext(sctx,
				d.Rebind("DELETE FROM "+table+" WHERE last_updated < ? AND collected = ?"), cutoff, true)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to cull %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		h.log.Info("culled collected items", zap.Int64("rows", total), zap.Time("older_than", olderThan))
	}
	return total, nil
}

// RowCounts reports the stored rows per table, collected ones included.
// A table that cannot be counted reports -1.
func (h *SQLHandler) RowCounts(ctx context.Context) map[string]int64 {
	counts := make(map[string]int64, 4)
	for _, table := range []string{listingTable, collectionTable, expiredTable, historyTable} {
		counts[table] = database.WithConnectionResult(ctx, h.pool, "failed to count "+table, -1,
			func(ctx context.Context, conn *sql.Conn) (int64, error) {
				var n int64
				err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
				return n, err
			})
	}
	return counts
}

func (h *SQLHandler) Ping(ctx context.Context) error { return h.pool.Ping(ctx) }

func (h *SQLHandler) Close() error { return h.pool.Close() }
