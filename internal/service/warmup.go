package service

import (
	"context"
	"fmt"

	"marketstore/internal/cache"
	"marketstore/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WarmCaches loads the listings and both containers from the store
// concurrently, replacing whatever the caches held.
func WarmCaches(ctx context.Context, store repository.DataHandler, caches *cache.Market, log *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		listings, err := store.Listings().GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load listings: %w", err)
		}
		caches.Listings.Replace(listings)
		return nil
	})
	g.Go(func() error {
		boxes, err := store.CollectionBoxes().GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load collection boxes: %w", err)
		}
		for _, b := range boxes {
			caches.CollectionBoxes.Set(b.Player, b.Items)
		}
		return nil
	})
	g.Go(func() error {
		expired, err := store.ExpiredItems().GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load expired items: %w", err)
		}
		for _, e := range expired {
			caches.ExpiredItems.Set(e.Player, e.Items)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("caches warmed",
		zap.Int("listings", caches.Listings.Len()),
		zap.Int("collection_box_items", caches.CollectionBoxes.Count()),
		zap.Int("expired_items", caches.ExpiredItems.Count()))
	return nil
}
