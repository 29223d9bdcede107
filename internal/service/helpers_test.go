package service

import (
	"context"
	"testing"
	"time"

	"marketstore/internal/broker"
	"marketstore/internal/cache"
	"marketstore/internal/cachesync"
	"marketstore/internal/config"
	"marketstore/internal/database"
	"marketstore/internal/economy"
	"marketstore/internal/events"
	"marketstore/internal/migration"
	"marketstore/internal/model"
	"marketstore/internal/notify"
	"marketstore/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testMessages = config.MessagesConfig{
	TooExpensive:   "too expensive",
	DoesNotExist:   "gone",
	NewItem:        "bought %item% for %price%",
	Sold:           "sold %item% for %price%",
	Cancelled:      "cancelled %item%",
	ListingCreated: "listed %item% for %price%",
}

type env struct {
	store   *repository.SQLHandler
	caches  *cache.Market
	players *notify.Inbox
	ledger  *economy.Ledger
	bus     *events.Bus
	sync    cachesync.Propagator
	svc     *ListingService
}

func newStore(t *testing.T) *repository.SQLHandler {
	t.Helper()
	pool, err := database.Open(context.Background(), database.Options{
		Type:              database.SQLite,
		DataDir:           t.TempDir(),
		ConnectionTimeout: 2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store := repository.NewSQLHandler(pool, zap.NewNop())
	require.NoError(t, migration.NewEngine(store, migration.Options{}, zap.NewNop()).Run(context.Background()))
	return store
}

func newEnv(t *testing.T, store *repository.SQLHandler, b broker.Broker, origin string) *env {
	t.Helper()
	e := &env{
		store:   store,
		caches:  cache.NewMarket(),
		players: notify.NewInbox(),
		ledger:  economy.NewLedger("vault", decimal.Zero),
		bus:     events.NewBus(zap.NewNop()),
	}
	t.Cleanup(e.bus.Close)

	mode := cachesync.ModeLocal
	if b != nil {
		mode = cachesync.ModeFederated
	}
	p, err := cachesync.New(mode, cachesync.Options{
		Caches:  e.caches,
		Store:   store,
		Players: e.players,
		Broker:  b,
		Origin:  origin,
		Log:     zap.NewNop(),
	})
	require.NoError(t, err)
	e.sync = p

	e.svc = NewListingService(ListingDeps{
		Store:      store,
		Caches:     e.caches,
		Propagator: p,
		Currency:   e.ledger,
		Players:    e.players,
		History:    NewTransactionLogger(store, zap.NewNop()),
		Events:     e.bus,
		Messages:   testMessages,
		Log:        zap.NewNop(),
	})
	return e
}

func (e *env) list(t *testing.T, seller uuid.UUID, price, tax int64) model.Listing {
	t.Helper()
	l, err := e.svc.Create(context.Background(), model.Listing{
		Owner:     seller,
		OwnerName: "seller",
		Item:      "diamond_sword",
		Category:  "weapons",
		Price:     decimal.NewFromInt(price),
		Tax:       decimal.NewFromInt(tax),
	})
	require.NoError(t, err)
	return l
}

func (e *env) history(t *testing.T, player uuid.UUID) []model.Action {
	t.Helper()
	h, _, err := e.store.History().Get(context.Background(), player)
	require.NoError(t, err)
	var out []model.Action
	for _, entry := range h.Entries {
		out = append(out, entry.Action)
	}
	return out
}
