package repository

import (
	"context"
	"fmt"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"github.com/google/uuid"
)

const historyTable = "history"

var historyColumns = []string{"id", "player", "action", "listing_id", "item", "price", "counterpart", "logged_at"}

// HistoryRow is one persisted history entry.
type HistoryRow struct {
	Player uuid.UUID
	model.HistoricItem
}

// HistorySQL is an append-only store; existing entries are never rewritten.
type HistorySQL struct {
	pool  *database.Pool
	stmts map[Statement]string
}

var (
	_ Dao[model.History] = (*HistorySQL)(nil)
	_ SQLDao[HistoryRow] = (*HistorySQL)(nil)
)

// NewHistorySQL builds the history statements for the pool's dialect.
func NewHistorySQL(pool *database.Pool) *HistorySQL {
	d := pool.Dialect()
	return &HistorySQL{
		pool: pool,
		stmts: map[Statement]string{
			StmtInsert:    d.InsertIgnore(historyTable, historyColumns, []string{"id"}),
			StmtSelectOne: d.Select(historyTable, historyColumns, "player") + " ORDER BY logged_at",
			StmtSelectAll: d.Select(historyTable, historyColumns) + " ORDER BY player, logged_at",
		},
	}
}

// SQL returns the statement text for s. Update and delete statements are empty.
func (r *HistorySQL) SQL(s Statement) string {
	return r.stmts[s]
}

func (r *HistorySQL) Bind(row HistoryRow) ([]any, error) {
	counterpart := uuid.NullUUID{}
	if row.Counterpart != nil {
		counterpart = uuid.NullUUID{UUID: *row.Counterpart, Valid: true}
	}
	return []any{row.ID, row.Player, string(row.Action), row.ListingID, row.Item, row.Price, counterpart, row.LoggedAt}, nil
}

func scanHistory(s rowScanner) (HistoryRow, error) {
	var (
		row         HistoryRow
		action      string
		counterpart uuid.NullUUID
	)
	err := s.Scan(&row.ID, &row.Player, &action, &row.ListingID, &row.Item, &row.Price, &counterpart, &row.LoggedAt)
	if err != nil {
		return row, err
	}
	row.Action = model.Action(action)
	if counterpart.Valid {
		c := counterpart.UUID
		row.Counterpart = &c
	}
	return row, nil
}

func (r *HistorySQL) Get(ctx context.Context, player uuid.UUID) (model.History, bool, error) {
	rows, err := queryRows(ctx, r.pool, "failed to get history", r.stmts[StmtSelectOne], scanHistory, player)
	if err != nil {
		return model.History{}, false, err
	}
	h := model.History{Player: player}
	for _, row := range rows {
		h.Entries = append(h.Entries, row.HistoricItem)
	}
	return h, len(rows) > 0, nil
}

func (r *HistorySQL) GetAll(ctx context.Context) ([]model.History, error) {
	rows, err := queryRows(ctx, r.pool, "failed to get histories", r.stmts[StmtSelectAll], scanHistory)
	if err != nil {
		return nil, err
	}
	var out []model.History
	index := make(map[uuid.UUID]int)
	for _, row := range rows {
		i, ok := index[row.Player]
		if !ok {
			i = len(out)
			index[row.Player] = i
			out = append(out, model.History{Player: row.Player})
		}
		out[i].Entries = append(out[i].Entries, row.HistoricItem)
	}
	return out, nil
}

// Save appends the entries of h. Entries already stored are left untouched.
func (r *HistorySQL) Save(ctx context.Context, h model.History) error {
	batch := make([][]any, 0, len(h.Entries))
	for _, e := range h.Entries {
		args, err := r.Bind(HistoryRow{Player: h.Player, HistoricItem: e})
		if err != nil {
			return err
		}
		batch = append(batch, args)
	}
	return execBatch(ctx, r.pool, "failed to append history", r.stmts[StmtInsert], batch)
}

func (r *HistorySQL) Update(ctx context.Context, h model.History, fields ...string) error {
	return fmt.Errorf("%w: history of %s", ErrImmutable, h.Player)
}

func (r *HistorySQL) Delete(ctx context.Context, h model.History) error {
	return fmt.Errorf("%w: history of %s", ErrImmutable, h.Player)
}

func (r *HistorySQL) DeleteSpecific(ctx context.Context, h model.History, selector any) error {
	return fmt.Errorf("%w: history of %s", ErrImmutable, h.Player)
}
