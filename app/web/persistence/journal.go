package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/umputun/tradejournal/app/web/enums"
)

// JournalEntry is a single trade recorded in the journal
type JournalEntry struct {
	ID         string
	ClientCode string
	TradeDate  string // YYYY-MM-DD
	Symbol     string
	Action     enums.TradeAction
	Quantity   int
	Price      decimal.Decimal
	PnL        decimal.Decimal
	Reasoning  string
	Notes      string
	Mood       string
	Confidence int // 0..100
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JournalFilter narrows ListEntries results, empty fields are ignored
type JournalFilter struct {
	ClientCode string
	Symbol     string
	Action     enums.TradeAction
	From       string // inclusive, YYYY-MM-DD
	To         string // inclusive, YYYY-MM-DD
	Limit      int
}

// JournalStats is an aggregate over journal entries of a client
type JournalStats struct {
	Count    int
	Wins     int
	Losses   int
	TotalPnL decimal.Decimal
	WinRate  float64 // percent of wins among entries with non-zero pnl
}

type journalRow struct {
	ID         string            `db:"id"`
	ClientCode string            `db:"client_code"`
	TradeDate  string            `db:"trade_date"`
	Symbol     string            `db:"symbol"`
	Action     enums.TradeAction `db:"action"`
	Quantity   int               `db:"quantity"`
	Price      decimal.Decimal   `db:"price"`
	PnL        decimal.Decimal   `db:"pnl"`
	Reasoning  string            `db:"reasoning"`
	Notes      string            `db:"notes"`
	Mood       string            `db:"mood"`
	Confidence int               `db:"confidence"`
	CreatedAt  int64             `db:"created_at"`
	UpdatedAt  int64             `db:"updated_at"`
}

func newJournalRow(e JournalEntry) journalRow {
	return journalRow{
		ID:         e.ID,
		ClientCode: e.ClientCode,
		TradeDate:  e.TradeDate,
		Symbol:     e.Symbol,
		Action:     e.Action,
		Quantity:   e.Quantity,
		Price:      e.Price,
		PnL:        e.PnL,
		Reasoning:  e.Reasoning,
		Notes:      e.Notes,
		Mood:       e.Mood,
		Confidence: e.Confidence,
		CreatedAt:  e.CreatedAt.Unix(),
		UpdatedAt:  e.UpdatedAt.Unix(),
	}
}

func (r journalRow) entry() JournalEntry {
	return JournalEntry{
		ID:         r.ID,
		ClientCode: r.ClientCode,
		TradeDate:  r.TradeDate,
		Symbol:     r.Symbol,
		Action:     r.Action,
		Quantity:   r.Quantity,
		Price:      r.Price,
		PnL:        r.PnL,
		Reasoning:  r.Reasoning,
		Notes:      r.Notes,
		Mood:       r.Mood,
		Confidence: r.Confidence,
		CreatedAt:  time.Unix(r.CreatedAt, 0),
		UpdatedAt:  time.Unix(r.UpdatedAt, 0),
	}
}

// CreateEntry inserts a new journal entry. ID, ClientCode and Action must be set.
func (s *SQLiteStore) CreateEntry(ctx context.Context, e JournalEntry) error {
	return insertEntry(ctx, s.db, e)
}

// CreateEntries inserts all entries in one transaction, nothing is stored if any insert fails
func (s *SQLiteStore) CreateEntries(ctx context.Context, entries []JournalEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal entries: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, db sqlx.ExtContext, e JournalEntry) error {
	if e.ID == "" || e.ClientCode == "" || !e.Action.IsValid() {
		return errors.New("entry id, client code and action are required")
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO journal (id, client_code, trade_date, symbol, action, quantity, price, pnl,
			reasoning, notes, mood, confidence, created_at, updated_at)
		VALUES (:id, :client_code, :trade_date, :symbol, :action, :quantity, :price, :pnl,
			:reasoning, :notes, :mood, :confidence, :created_at, :updated_at)`, newJournalRow(e))
	if err != nil {
		return fmt.Errorf("failed to create journal entry %s: %w", e.ID, err)
	}
	return nil
}

// UpdateEntry replaces mutable fields of an existing entry owned by e.ClientCode
func (s *SQLiteStore) UpdateEntry(ctx context.Context, e JournalEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE journal SET trade_date = :trade_date, symbol = :symbol, action = :action,
			quantity = :quantity, price = :price, pnl = :pnl, reasoning = :reasoning, notes = :notes,
			mood = :mood, confidence = :confidence, updated_at = :updated_at
		WHERE id = :id AND client_code = :client_code`, newJournalRow(e))
	if err != nil {
		return fmt.Errorf("failed to update journal entry %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEntry returns the entry by id for the client or ErrNotFound
func (s *SQLiteStore) GetEntry(ctx context.Context, clientCode, id string) (JournalEntry, error) {
	var row journalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM journal WHERE id = ? AND client_code = ?`, id, clientCode)
	if errors.Is(err, sql.ErrNoRows) {
		return JournalEntry{}, ErrNotFound
	}
	if err != nil {
		return JournalEntry{}, fmt.Errorf("failed to get journal entry %s: %w", id, err)
	}
	return row.entry(), nil
}

// DeleteEntry removes the entry by id for the client, returns ErrNotFound if nothing was deleted
func (s *SQLiteStore) DeleteEntry(ctx context.Context, clientCode, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal WHERE id = ? AND client_code = ?`, id, clientCode)
	if err != nil {
		return fmt.Errorf("failed to delete journal entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntries returns entries matching the filter, newest trade date first
func (s *SQLiteStore) ListEntries(ctx context.Context, f JournalFilter) ([]JournalEntry, error) {
	where := []string{"client_code = ?"}
	args := []any{f.ClientCode}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if f.Action.IsValid() {
		where = append(where, "action = ?")
		args = append(args, f.Action.String())
	}
	if f.From != "" {
		where = append(where, "trade_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "trade_date <= ?")
		args = append(args, f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT * FROM journal WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY trade_date DESC, created_at DESC, id LIMIT ?` // #nosec G202 - only placeholders are concatenated

	rows := []journalRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	res := make([]JournalEntry, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.entry())
	}
	return res, nil
}

// CountEntries returns the number of journal entries of the client
func (s *SQLiteStore) CountEntries(ctx context.Context, clientCode string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM journal WHERE client_code = ?`, clientCode); err != nil {
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}

// JournalStats aggregates pnl of all entries of the client.
// Sums are done on decimals in go, sqlite would sum text columns as floats.
func (s *SQLiteStore) JournalStats(ctx context.Context, clientCode string) (JournalStats, error) {
	pnls := []decimal.Decimal{}
	if err := s.db.SelectContext(ctx, &pnls, `SELECT pnl FROM journal WHERE client_code = ?`, clientCode); err != nil {
		return JournalStats{}, fmt.Errorf("failed to load journal pnl: %w", err)
	}

	res := JournalStats{Count: len(pnls), TotalPnL: decimal.Zero}
	for _, p := range pnls {
		res.TotalPnL = res.TotalPnL.Add(p)
		switch p.Sign() {
		case 1:
			res.Wins++
		case -1:
			res.Losses++
		}
	}
	if decided := res.Wins + res.Losses; decided > 0 {
		res.WinRate = math.Round(float64(res.Wins)/float64(decided)*10000) / 100
	}
	return res, nil
}
