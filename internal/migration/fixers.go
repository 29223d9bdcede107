package migration

import (
	"fmt"

	"marketstore/internal/model"
	"marketstore/internal/repository"
)

// buildFunc converts legacy rows into the insert statement and argument
// sets to run against the current tables.
type buildFunc func(rows []LegacyRow) (query string, batch [][]any, err error)

type fixer struct {
	table string
	build buildFunc
}

// fixers lists the converters in the order they must run.
func (e *Engine) fixers() []fixer {
	return []fixer{
		{LegacyListings, e.fixListings},
		{LegacyCollectionBox, e.fixCollectionBox},
		{LegacyCollectionBoxV2, e.fixCollectionBoxV2},
		{LegacyExpiredItems, e.fixExpiredItems},
		{LegacyExpiredItemsV2, e.fixExpiredItemsV2},
	}
}

func (e *Engine) fixListings(rows []LegacyRow) (string, [][]any, error) {
	now := e.opts.Now()
	out := make([]model.Listing, 0, len(rows))
	for i, r := range rows {
		l, err := TransformListingV1(r, e.opts.DefaultCurrency, now)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, l)
	}
	return bindAll[model.Listing](e.store.ListingSQL(), out)
}

func (e *Engine) fixCollectionBox(rows []LegacyRow) (string, [][]any, error) {
	now := e.opts.Now()
	out := make([]model.CollectionEntry, 0, len(rows))
	for i, r := range rows {
		entry, err := TransformCollectionBoxV1(r, i, now)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, entry)
	}
	return bindAll[model.CollectionEntry](e.store.CollectionBoxSQL(), out)
}

func (e *Engine) fixCollectionBoxV2(rows []LegacyRow) (string, [][]any, error) {
	now := e.opts.Now()
	var out []model.CollectionEntry
	for i, r := range rows {
		entries, err := TransformCollectionBoxV2(r, e.opts.Encoder, now)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, entries...)
	}
	return bindAll[model.CollectionEntry](e.store.CollectionBoxSQL(), out)
}

func (e *Engine) fixExpiredItems(rows []LegacyRow) (string, [][]any, error) {
	now := e.opts.Now()
	out := make([]model.ExpiredEntry, 0, len(rows))
	for i, r := range rows {
		entry, err := TransformExpiredItemsV1(r, i, now)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, entry)
	}
	return bindAll[model.ExpiredEntry](e.store.ExpiredItemsSQL(), out)
}

func (e *Engine) fixExpiredItemsV2(rows []LegacyRow) (string, [][]any, error) {
	now := e.opts.Now()
	var out []model.ExpiredEntry
	for i, r := range rows {
		entries, err := TransformExpiredItemsV2(r, e.opts.Encoder, now)
		if err != nil {
			return "", nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, entries...)
	}
	return bindAll[model.ExpiredEntry](e.store.ExpiredItemsSQL(), out)
}

// bindAll binds rows with dao and pairs them with the dao's insert statement.
func bindAll[R any](dao repository.SQLDao[R], rows []R) (string, [][]any, error) {
	batch := make([][]any, 0, len(rows))
	for _, r := range rows {
		args, err := dao.Bind(r)
		if err != nil {
			return "", nil, err
		}
		batch = append(batch, args)
	}
	return dao.SQL(repository.StmtInsert), batch, nil
}
