package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/repository"

	"go.uber.org/zap"
)

// VersionTable marks a store that already runs the current layout.
const VersionTable = "market_schema_version"

// SchemaVersion is stamped into VersionTable once bring-up completes.
const SchemaVersion = 3

// State is the bring-up progress of the store.
type State int32

const (
	StateUninitialized State = iota
	StateSchemaApplied
	StateMigrated
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateSchemaApplied:
		return "SCHEMA_APPLIED"
	case StateMigrated:
		return "MIGRATED"
	case StateReady:
		return "READY"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MigrationError reports a legacy table that could not be converted. Its rows
// are left untouched and the next start retries it.
type MigrationError struct {
	Table string
	Err   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration of %s failed: %v", e.Table, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Options tunes the fixers.
type Options struct {
	// DefaultCurrency is assigned to listings that predate multi-currency support.
	DefaultCurrency string
	Encoder         ItemEncoder
	Now             func() time.Time
}

// Engine brings a relational store up to the current schema and converts
// any legacy tables it finds.
type Engine struct {
	store *repository.SQLHandler
	opts  Options
	state atomic.Int32
	log   *zap.Logger
}

// NewEngine creates an engine for store.
func NewEngine(store *repository.SQLHandler, opts Options, log *zap.Logger) *Engine {
	if opts.Encoder == nil {
		opts.Encoder = DefaultItemEncoder
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{store: store, opts: opts, log: log.Named("migration")}
}

// ReadyEngine returns an engine for a store that needs no bring-up.
func ReadyEngine() *Engine {
	e := &Engine{log: zap.NewNop()}
	e.state.Store(int32(StateReady))
	return e
}

// State returns the current bring-up state. Safe for concurrent use.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) transition(s State) {
	e.state.Store(int32(s))
	e.log.Info("schema state", zap.Stringer("state", s))
}

// Run performs bring-up. On a store that already carries VersionTable it
// does nothing. Failing fixers are reported together; the rest still run.
func (e *Engine) Run(ctx context.Context) error {
	if e.store == nil || e.State() == StateReady {
		return nil
	}
	pool := e.store.Pool()

	tables, err := pool.Tables(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if tables.Has(VersionTable) {
		e.transition(StateReady)
		return nil
	}

	if err := e.applySchema(ctx, pool); err != nil {
		return err
	}
	e.transition(StateSchemaApplied)

	var errs []error
	for _, f := range e.fixers() {
		if !tables.Has(f.table) {
			continue
		}
		name := tables.Name(f.table)
		n, err := e.migrate(ctx, pool, name, f.build)
		if err != nil {
			errs = append(errs, &MigrationError{Table: name, Err: err})
			e.log.Error("legacy table migration failed", zap.String("table", name), zap.Error(err))
			continue
		}
		e.log.Info("legacy table migrated", zap.String("table", name), zap.Int("rows", n))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := e.stamp(ctx, pool); err != nil {
		return err
	}
	e.transition(StateMigrated)
	e.transition(StateReady)
	return nil
}

func (e *Engine) applySchema(ctx context.Context, pool *database.Pool) error {
	stmts, err := pool.Dialect().SchemaStatements()
	if err != nil {
		return err
	}
	return pool.WithTx(ctx, "failed to apply schema", func(ctx context.Context, tx *sql.Tx) error {
		for _, s := range stmts {
			sctx, cancel := pool.Bound(ctx)
			_, err := tx.ExecContext(sctx, s)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to apply schema statement %q: %w", firstLine(s), err)
			}
		}
		return nil
	})
}

func (e *Engine) stamp(ctx context.Context, pool *database.Pool) error {
	d := pool.Dialect()
	insert := d.InsertIgnore(VersionTable, []string{"version", "applied_at"}, []string{"version"})
	return pool.WithTx(ctx, "failed to stamp schema version", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"CREATE TABLE IF NOT EXISTS "+VersionTable+" (version INTEGER NOT NULL PRIMARY KEY, applied_at BIGINT NOT NULL)"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, insert, SchemaVersion, e.opts.Now().UnixMilli())
		return err
	})
}

// migrate reads every row of table, converts them with build and writes the
// result in one transaction.
func (e *Engine) migrate(ctx context.Context, pool *database.Pool, table string, build buildFunc) (int, error) {
	rows, err := readLegacy(ctx, pool, table)
	if err != nil {
		return 0, err
	}
	query, batch, err := build(rows)
	if err != nil {
		return 0, err
	}
	err = pool.WithTx(ctx, "failed to write migrated rows of "+table, func(ctx context.Context, tx *sql.Tx) error {
		return repository.BatchExec(ctx, pool, tx, query, batch)
	})
	if err != nil {
		return 0, err
	}
	return len(batch), nil
}

func readLegacy(ctx context.Context, pool *database.Pool, table string) ([]LegacyRow, error) {
	var out []LegacyRow
	err := pool.WithConnection(ctx, "failed to read "+table, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT * FROM "+table)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			row := make(LegacyRow, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					vals[i] = string(b)
				}
				row[strings.ToLower(c)] = vals[i]
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
