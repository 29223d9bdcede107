package migration

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStore(t *testing.T) *repository.SQLHandler {
	t.Helper()
	pool, err := database.Open(context.Background(), database.Options{
		Type:              database.SQLite,
		DataDir:           t.TempDir(),
		ConnectionTimeout: 2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return repository.NewSQLHandler(pool, zap.NewNop())
}

func exec(t *testing.T, store *repository.SQLHandler, query string, args ...any) {
	t.Helper()
	require.NoError(t, store.Pool().WithConnection(context.Background(), "exec", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, query, args...)
		return err
	}))
}

func count(t *testing.T, store *repository.SQLHandler, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.Pool().WithConnection(context.Background(), "count", func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	}))
	return n
}

func seedLegacy(t *testing.T, store *repository.SQLHandler) (player uuid.UUID) {
	player = uuid.New()
	exec(t, store, `CREATE TABLE listings (uuid TEXT, ownerUUID TEXT, ownerName TEXT, itemStack TEXT,
		category TEXT, price REAL, tax REAL, creationDate BIGINT, biddable BOOLEAN)`)
	exec(t, store, `INSERT INTO listings VALUES (?, ?, 'Alex', 'sword', 'tools', 55.5, 5, 1000, 0)`,
		uuid.NewString(), uuid.NewString())

	exec(t, store, `CREATE TABLE collection_box (playerUUID TEXT, itemStack TEXT, dateAdded BIGINT)`)
	exec(t, store, `INSERT INTO collection_box VALUES (?, 'a', 1), (?, 'b', 2)`, player.String(), player.String())

	exec(t, store, `CREATE TABLE collection_boxV2 (playerUUID TEXT, items TEXT)`)
	exec(t, store, `INSERT INTO collection_boxV2 VALUES (?, ?)`, player.String(),
		`[{"id":"`+uuid.NewString()+`","owner":"`+uuid.NewString()+`","itemStack":"c","dateAdded":3},`+
			`{"id":"`+uuid.NewString()+`","owner":"`+uuid.NewString()+`","itemStack":"d","dateAdded":4},`+
			`{"id":"`+uuid.NewString()+`","owner":"`+uuid.NewString()+`","itemStack":"e","dateAdded":5}]`)

	exec(t, store, `CREATE TABLE expired_items (playerUUID TEXT, itemStack TEXT, dateAdded BIGINT)`)
	exec(t, store, `INSERT INTO expired_items VALUES (?, 'f', 6)`, player.String())
	return player
}

func TestRunFreshStore(t *testing.T) {
	store := openStore(t)
	e := NewEngine(store, Options{DefaultCurrency: "vault"}, zap.NewNop())
	assert.Equal(t, StateUninitialized, e.State())

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, 1, count(t, store, VersionTable))
	assert.Equal(t, 0, count(t, store, "market_listings"))
}

func TestRunMigratesLegacyTables(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	player := seedLegacy(t, store)

	require.NoError(t, NewEngine(store, Options{DefaultCurrency: "vault"}, zap.NewNop()).Run(ctx))

	listings, err := store.Listings().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "vault", listings[0].Currency)

	box, _, err := store.CollectionBoxes().Get(ctx, player)
	require.NoError(t, err)
	assert.Len(t, box.Items, 5, "2 v1 rows plus 3 fanned out v2 items")

	expired, _, err := store.ExpiredItems().Get(ctx, player)
	require.NoError(t, err)
	assert.Len(t, expired.Items, 1)

	// legacy tables stay in place
	assert.Equal(t, 2, count(t, store, "collection_box"))
}

func TestRunIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	seedLegacy(t, store)

	require.NoError(t, NewEngine(store, Options{}, zap.NewNop()).Run(ctx))
	before := count(t, store, "items")

	// a second start must not touch the schema: a dropped table stays dropped
	exec(t, store, "DROP TABLE history")
	second := NewEngine(store, Options{}, zap.NewNop())
	require.NoError(t, second.Run(ctx))
	assert.Equal(t, StateReady, second.State())

	tables, err := store.Pool().Tables(ctx)
	require.NoError(t, err)
	assert.False(t, tables.Has("history"))
	assert.Equal(t, before, count(t, store, "items"))
}

func TestFailedFixerIsSurfacedAndRetried(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	player := seedLegacy(t, store)
	exec(t, store, `CREATE TABLE expired_itemsV2 (playerUUID TEXT, items TEXT)`)
	exec(t, store, `INSERT INTO expired_itemsV2 VALUES (?, '[{broken')`, player.String())

	e := NewEngine(store, Options{}, zap.NewNop())
	err := e.Run(ctx)
	require.Error(t, err)

	var migErr *MigrationError
	require.True(t, errors.As(err, &migErr))
	assert.Equal(t, LegacyExpiredItemsV2, migErr.Table)
	assert.Equal(t, StateSchemaApplied, e.State())

	tables, err := store.Pool().Tables(ctx)
	require.NoError(t, err)
	assert.False(t, tables.Has(VersionTable), "version is only stamped after every fixer succeeds")
	assert.Equal(t, 5, count(t, store, "items"), "other tables were migrated")

	exec(t, store, `UPDATE expired_itemsV2 SET items = ?`, `[{"id":"`+uuid.NewString()+`","itemStack":"g","dateAdded":7}]`)
	retry := NewEngine(store, Options{}, zap.NewNop())
	require.NoError(t, retry.Run(ctx))
	assert.Equal(t, StateReady, retry.State())
	assert.Equal(t, 5, count(t, store, "items"), "re-run rewrites the same rows")
	assert.Equal(t, 2, count(t, store, "expired"))
}

func TestReadyEngine(t *testing.T) {
	e := ReadyEngine()
	assert.Equal(t, StateReady, e.State())
	assert.NoError(t, e.Run(context.Background()))
}
