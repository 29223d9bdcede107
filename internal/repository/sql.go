package repository

import (
	"context"
	"database/sql"
	"fmt"

	"marketstore/internal/database"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// queryRows runs query on a pooled connection and scans every row.
func queryRows[R any](ctx context.Context, pool *database.Pool, msg, query string, scan func(rowScanner) (R, error), args ...any) ([]R, error) {
	var out []R
	err := pool.WithConnection(ctx, msg, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	return out, nil
}

// execStmt runs a single statement and returns the affected row count.
func execStmt(ctx context.Context, pool *database.Pool, msg, query string, args ...any) (int64, error) {
	var affected int64
	err := pool.WithConnection(ctx, msg, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", msg, err)
	}
	return affected, nil
}

// BatchExec prepares query once inside tx and executes it for every argument
// set. Each execution is bounded by the pool's connection timeout.
func BatchExec(ctx context.Context, pool *database.Pool, tx *sql.Tx, query string, batch [][]any) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, args := range batch {
		sctx, cancel := pool.Bound(ctx)
		_, err := stmt.ExecContext(sctx, args...)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to execute batch row %d: %w", i, err)
		}
	}
	return nil
}

// execBatch runs BatchExec in its own transaction.
func execBatch(ctx context.Context, pool *database.Pool, msg, query string, batch [][]any) error {
	if len(batch) == 0 {
		return nil
	}
	err := pool.WithTx(ctx, msg, func(ctx context.Context, tx *sql.Tx) error {
		return BatchExec(ctx, pool, tx, query, batch)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}
