package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tradejournal/app/web/enums"
)

func testEntry(id, date, symbol string, action enums.TradeAction, pnl string) JournalEntry {
	return JournalEntry{
		ID:         id,
		ClientCode: "A123",
		TradeDate:  date,
		Symbol:     symbol,
		Action:     action,
		Quantity:   10,
		Price:      decimal.RequireFromString("2750.50"),
		PnL:        decimal.RequireFromString(pnl),
		Reasoning:  "momentum",
		Notes:      "note " + id,
		Mood:       "😊",
		Confidence: 80,
	}
}

func TestSQLiteStore_JournalCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := testEntry("e1", "2024-01-15", "RELIANCE", enums.TradeActionBuy, "7000")
	require.NoError(t, store.CreateEntry(ctx, e))

	t.Run("get", func(t *testing.T) {
		got, err := store.GetEntry(ctx, "A123", "e1")
		require.NoError(t, err)
		assert.Equal(t, "RELIANCE", got.Symbol)
		assert.Equal(t, enums.TradeActionBuy, got.Action)
		assert.True(t, decimal.RequireFromString("2750.50").Equal(got.Price))
		assert.True(t, decimal.NewFromInt(7000).Equal(got.PnL))
		assert.Equal(t, "😊", got.Mood)
		assert.Equal(t, 80, got.Confidence)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("other client can't see it", func(t *testing.T) {
		_, err := store.GetEntry(ctx, "B999", "e1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		require.Error(t, store.CreateEntry(ctx, e))
	})

	t.Run("invalid entry rejected", func(t *testing.T) {
		bad := e
		bad.ID = "e-bad"
		bad.Action = enums.TradeAction{}
		require.Error(t, store.CreateEntry(ctx, bad))
	})

	t.Run("update", func(t *testing.T) {
		upd := e
		upd.Notes = "changed"
		upd.PnL = decimal.RequireFromString("-120.25")
		upd.Action = enums.TradeActionSell
		require.NoError(t, store.UpdateEntry(ctx, upd))

		got, err := store.GetEntry(ctx, "A123", "e1")
		require.NoError(t, err)
		assert.Equal(t, "changed", got.Notes)
		assert.Equal(t, enums.TradeActionSell, got.Action)
		assert.True(t, decimal.RequireFromString("-120.25").Equal(got.PnL))
	})

	t.Run("update missing", func(t *testing.T) {
		missing := e
		missing.ID = "nope"
		require.ErrorIs(t, store.UpdateEntry(ctx, missing), ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteEntry(ctx, "A123", "e1"))
		require.ErrorIs(t, store.DeleteEntry(ctx, "A123", "e1"), ErrNotFound)
	})
}

func TestSQLiteStore_CreateEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("all inserted", func(t *testing.T) {
		err := store.CreateEntries(ctx, []JournalEntry{
			testEntry("e1", "2024-01-15", "RELIANCE", enums.TradeActionBuy, "100"),
			testEntry("e2", "2024-01-16", "TCS", enums.TradeActionSell, "-50"),
		})
		require.NoError(t, err)
		count, err := store.CountEntries(ctx, "A123")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("failed insert rolls back all", func(t *testing.T) {
		err := store.CreateEntries(ctx, []JournalEntry{
			testEntry("e3", "2024-01-17", "INFY", enums.TradeActionBuy, "10"),
			testEntry("e1", "2024-01-18", "HDFC", enums.TradeActionBuy, "20"), // duplicate id
			testEntry("e4", "2024-01-19", "SBIN", enums.TradeActionSell, "30"),
		})
		require.Error(t, err)
		count, err := store.CountEntries(ctx, "A123")
		require.NoError(t, err)
		assert.Equal(t, 2, count, "nothing from the failed batch stored")
		_, err = store.GetEntry(ctx, "A123", "e3")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty batch", func(t *testing.T) {
		require.NoError(t, store.CreateEntries(ctx, nil))
	})
}

func TestSQLiteStore_ListEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []JournalEntry{
		testEntry("e1", "2024-01-13", "INFY", enums.TradeActionBuy, "1200"),
		testEntry("e2", "2024-01-14", "TCS", enums.TradeActionSell, "-800"),
		testEntry("e3", "2024-01-15", "RELIANCE", enums.TradeActionBuy, "7000"),
		testEntry("e4", "2024-01-16", "TCS", enums.TradeActionBuy, "0"),
	}
	for _, e := range entries {
		require.NoError(t, store.CreateEntry(ctx, e))
	}
	other := testEntry("x1", "2024-01-15", "TCS", enums.TradeActionBuy, "10")
	other.ClientCode = "B999"
	require.NoError(t, store.CreateEntry(ctx, other))

	ids := func(res []JournalEntry) []string {
		out := make([]string, 0, len(res))
		for _, e := range res {
			out = append(out, e.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter JournalFilter
		want   []string
	}{
		{"all newest first", JournalFilter{ClientCode: "A123"}, []string{"e4", "e3", "e2", "e1"}},
		{"by symbol lower case", JournalFilter{ClientCode: "A123", Symbol: "tcs"}, []string{"e4", "e2"}},
		{"by action", JournalFilter{ClientCode: "A123", Action: enums.TradeActionSell}, []string{"e2"}},
		{"date range", JournalFilter{ClientCode: "A123", From: "2024-01-14", To: "2024-01-15"}, []string{"e3", "e2"}},
		{"limit", JournalFilter{ClientCode: "A123", Limit: 2}, []string{"e4", "e3"}},
		{"other client", JournalFilter{ClientCode: "B999"}, []string{"x1"}},
		{"unknown client", JournalFilter{ClientCode: "C000"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := store.ListEntries(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res))
		})
	}

	count, err := store.CountEntries(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestSQLiteStore_JournalStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		st, err := store.JournalStats(ctx, "A123")
		require.NoError(t, err)
		assert.Equal(t, 0, st.Count)
		assert.True(t, st.TotalPnL.IsZero())
		assert.InDelta(t, 0.0, st.WinRate, 0.001)
	})

	now := time.Now()
	for i, pnl := range []string{"7000", "-800", "1200.10", "0"} {
		e := testEntry(string(rune('a'+i)), "2024-01-15", "TCS", enums.TradeActionBuy, pnl)
		e.CreatedAt = now
		require.NoError(t, store.CreateEntry(ctx, e))
	}

	st, err := store.JournalStats(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.Equal(t, "7400.1", st.TotalPnL.String())
	assert.InDelta(t, 66.67, st.WinRate, 0.001)
}
