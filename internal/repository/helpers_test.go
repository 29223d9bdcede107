package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) *SQLHandler {
	t.Helper()
	ctx := context.Background()
	pool, err := database.Open(ctx, database.Options{
		Type:              database.SQLite,
		DataDir:           t.TempDir(),
		ConnectionTimeout: 2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	stmts, err := pool.Dialect().SchemaStatements()
	require.NoError(t, err)
	require.NoError(t, pool.WithTx(ctx, "schema", func(ctx context.Context, tx *sql.Tx) error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}))
	return NewSQLHandler(pool, zap.NewNop())
}

func testListing() model.Listing {
	now := time.Now().UnixMilli()
	return model.Listing{
		ID:           uuid.New(),
		Owner:        uuid.New(),
		OwnerName:    "seller",
		Item:         `{"type":"DIAMOND","amount":3}`,
		Category:     "blocks",
		Currency:     "vault",
		Price:        decimal.NewFromInt(100),
		Tax:          decimal.NewFromInt(10),
		CreationDate: now,
		DeletionDate: now + int64(time.Hour/time.Millisecond),
	}
}
