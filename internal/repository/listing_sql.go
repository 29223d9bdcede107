package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"github.com/google/uuid"
)

const listingTable = "market_listings"

var listingColumns = []string{
	"id", "owner", "owner_name", "item", "category", "currency",
	"price", "tax", "creation_date", "deletion_date", "biddable", "bids",
}

// listingFields maps updatable column names to their value on a listing.
var listingFields = map[string]func(l *model.Listing) (any, error){
	"owner":         func(l *model.Listing) (any, error) { return l.Owner, nil },
	"owner_name":    func(l *model.Listing) (any, error) { return l.OwnerName, nil },
	"item":          func(l *model.Listing) (any, error) { return l.Item, nil },
	"category":      func(l *model.Listing) (any, error) { return l.Category, nil },
	"currency":      func(l *model.Listing) (any, error) { return l.Currency, nil },
	"price":         func(l *model.Listing) (any, error) { return l.Price, nil },
	"tax":           func(l *model.Listing) (any, error) { return l.Tax, nil },
	"creation_date": func(l *model.Listing) (any, error) { return l.CreationDate, nil },
	"deletion_date": func(l *model.Listing) (any, error) { return l.DeletionDate, nil },
	"biddable":      func(l *model.Listing) (any, error) { return l.Biddable, nil },
	"bids":          func(l *model.Listing) (any, error) { return encodeBids(l.Bids) },
}

// ListingSQL stores listings in the market_listings table.
type ListingSQL struct {
	pool    *database.Pool
	dialect database.Dialect
	stmts   map[Statement]string
}

var (
	_ Dao[model.Listing]    = (*ListingSQL)(nil)
	_ SQLDao[model.Listing] = (*ListingSQL)(nil)
)

// NewListingSQL builds the listing statements for the pool's dialect.
func NewListingSQL(pool *database.Pool) *ListingSQL {
	d := pool.Dialect()
	return &ListingSQL{
		pool:    pool,
		dialect: d,
		stmts: map[Statement]string{
			StmtInsert:         d.Upsert(listingTable, listingColumns, []string{"id"}),
			StmtUpdate:         d.Update(listingTable, listingColumns[1:], "id"),
			StmtDelete:         d.Delete(listingTable, "id"),
			StmtDeleteSpecific: d.Update(listingTable, []string{"bids"}, "id"),
			StmtSelectOne:      d.Select(listingTable, listingColumns, "id"),
			StmtSelectAll:      d.Select(listingTable, listingColumns),
		},
	}
}

// SQL returns the statement text for s.
func (r *ListingSQL) SQL(s Statement) string {
	return r.stmts[s]
}

// Bind returns the insert arguments of l in column order.
func (r *ListingSQL) Bind(l model.Listing) ([]any, error) {
	bids, err := encodeBids(l.Bids)
	if err != nil {
		return nil, err
	}
	return []any{
		l.ID, l.Owner, l.OwnerName, l.Item, l.Category, l.Currency,
		l.Price, l.Tax, l.CreationDate, l.DeletionDate, l.Biddable, bids,
	}, nil
}

func scanListing(s rowScanner) (model.Listing, error) {
	var (
		l    model.Listing
		bids string
	)
	err := s.Scan(&l.ID, &l.Owner, &l.OwnerName, &l.Item, &l.Category, &l.Currency,
		&l.Price, &l.Tax, &l.CreationDate, &l.DeletionDate, &l.Biddable, &bids)
	if err != nil {
		return l, err
	}
	if bids != "" {
		if err := json.Unmarshal([]byte(bids), &l.Bids); err != nil {
			return l, fmt.Errorf("failed to decode bids of %s: %w", l.ID, err)
		}
	}
	return l, nil
}

func encodeBids(bids []model.Bid) (string, error) {
	if bids == nil {
		bids = []model.Bid{}
	}
	b, err := json.Marshal(bids)
	if err != nil {
		return "", fmt.Errorf("failed to encode bids: %w", err)
	}
	return string(b), nil
}

// Get loads a listing by id.
func (r *ListingSQL) Get(ctx context.Context, id uuid.UUID) (model.Listing, bool, error) {
	rows, err := queryRows(ctx, r.pool, "failed to get listing", r.stmts[StmtSelectOne], scanListing, id)
	if err != nil || len(rows) == 0 {
		return model.Listing{}, false, err
	}
	return rows[0], true, nil
}

// GetAll loads every listing.
func (r *ListingSQL) GetAll(ctx context.Context) ([]model.Listing, error) {
	return queryRows(ctx, r.pool, "failed to get listings", r.stmts[StmtSelectAll], scanListing)
}

// Save upserts l.
func (r *ListingSQL) Save(ctx context.Context, l model.Listing) error {
	args, err := r.Bind(l)
	if err != nil {
		return err
	}
	_, err = execStmt(ctx, r.pool, "failed to save listing", r.stmts[StmtInsert], args...)
	return err
}

// Update rewrites fields of l. With no fields every column is rewritten.
func (r *ListingSQL) Update(ctx context.Context, l model.Listing, fields ...string) error {
	if len(fields) == 0 {
		args, err := r.Bind(l)
		if err != nil {
			return err
		}
		args = append(args[1:], l.ID)
		_, err = execStmt(ctx, r.pool, "failed to update listing", r.stmts[StmtUpdate], args...)
		return err
	}

	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		value, ok := listingFields[f]
		if !ok {
			return fmt.Errorf("%w: listing.%s", ErrUnknownField, f)
		}
		v, err := value(&l)
		if err != nil {
			return err
		}
		args = append(args, v)
	}
	args = append(args, l.ID)
	_, err := execStmt(ctx, r.pool, "failed to update listing", r.dialect.Update(listingTable, fields, "id"), args...)
	return err
}

// Delete removes l. Deleting a missing row is a no-op.
func (r *ListingSQL) Delete(ctx context.Context, l model.Listing) error {
	_, err := execStmt(ctx, r.pool, "failed to delete listing", r.stmts[StmtDelete], l.ID)
	return err
}

// DeleteSpecific withdraws the bids placed by the bidder named in selector.
func (r *ListingSQL) DeleteSpecific(ctx context.Context, l model.Listing, selector any) error {
	bidder, ok := selector.(uuid.UUID)
	if !ok {
		return fmt.Errorf("%w: listing selector %T", ErrUnsupported, selector)
	}
	kept := make([]model.Bid, 0, len(l.Bids))
	for _, b := range l.Bids {
		if b.Bidder != bidder {
			kept = append(kept, b)
		}
	}
	bids, err := encodeBids(kept)
	if err != nil {
		return err
	}
	_, err = execStmt(ctx, r.pool, "failed to withdraw bid", r.stmts[StmtDeleteSpecific], bids, l.ID)
	return err
}
