package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecopy/internal/account"
	"tradecopy/internal/manager"
	"tradecopy/internal/metrics"
	"tradecopy/internal/signal"
	"tradecopy/internal/symbols"
	"tradecopy/internal/venue"
	"tradecopy/internal/venue/paper"
)

func newPaperAccount(t *testing.T, login int64, balance float64) (*account.Account, *paper.Session) {
	t.Helper()
	sess := paper.NewSession(login, balance)
	sess.SetSymbol(venue.SymbolInfo{
		Symbol: "XAUUSD", TickValue: 1, TickSize: 0.01,
		VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100, Digits: 2,
	})
	sess.SetTick("XAUUSD", 2399.8, 2400.0)
	return account.New(login, 1.0, sess), sess
}

func goldSignal() signal.Signal {
	return signal.Signal{
		Symbol:    "GOLD",
		Direction: signal.Buy,
		Entries:   []signal.Entry{{Kind: signal.EntryMarket}},
		Targets:   []float64{2405, 2410},
		StopLoss:  2390,
		GroupID:   "grp-1",
	}
}

func TestEngineExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("market entry fills and registers", func(t *testing.T) {
		acc, sess := newPaperAccount(t, 101, 10000)
		registry := account.NewStaticRegistry(ctx, []*account.Account{acc})
		queue := manager.NewQueue()
		eng := New(registry, queue, symbols.NewTable(), nil, metrics.New())

		eng.Execute(ctx, goldSignal())

		regs := queue.Drain()
		require.Len(t, regs, 1)
		assert.Equal(t, int64(101), regs[0].Login)
		assert.Equal(t, "grp-1", regs[0].GroupID)
		// 100 USD risk over 10.00 stop distance, split across 2 targets.
		assert.InDelta(t, 0.10, regs[0].OriginalVolume, 1e-9)

		pos, ok := sess.Position(regs[0].Ticket)
		require.True(t, ok)
		assert.Equal(t, "XAUUSD", pos.Symbol, "alias must resolve before submission")
		assert.Equal(t, venue.OrderBuy, pos.Type)
		assert.InDelta(t, 2400.0, pos.PriceOpen, 1e-9, "buys fill at the ask")
		assert.InDelta(t, 2390.0, pos.StopLoss, 1e-9)
		assert.InDelta(t, 2410.0, pos.TakeProfit, 1e-9, "venue-side TP is the final target")
		assert.Equal(t, int64(101), pos.Magic)
		assert.True(t, strings.HasPrefix(pos.Comment, "GID:grp-1"))
	})

	t.Run("fans out to every active account", func(t *testing.T) {
		acc1, _ := newPaperAccount(t, 101, 10000)
		acc2, _ := newPaperAccount(t, 202, 25000)
		registry := account.NewStaticRegistry(ctx, []*account.Account{acc1, acc2})
		queue := manager.NewQueue()
		eng := New(registry, queue, symbols.NewTable(), nil, metrics.New())

		eng.Execute(ctx, goldSignal())

		regs := queue.Drain()
		require.Len(t, regs, 2)
		logins := map[int64]bool{regs[0].Login: true, regs[1].Login: true}
		assert.True(t, logins[101] && logins[202])
	})

	t.Run("one account failing does not block the other", func(t *testing.T) {
		acc1, sess1 := newPaperAccount(t, 101, 10000)
		acc2, _ := newPaperAccount(t, 202, 10000)
		sess1.SubmitErr = errors.New("trade disabled")
		registry := account.NewStaticRegistry(ctx, []*account.Account{acc1, acc2})
		queue := manager.NewQueue()
		eng := New(registry, queue, symbols.NewTable(), nil, metrics.New())

		eng.Execute(ctx, goldSignal())

		regs := queue.Drain()
		require.Len(t, regs, 1)
		assert.Equal(t, int64(202), regs[0].Login)
	})

	t.Run("limit entries rest instead of filling", func(t *testing.T) {
		acc, sess := newPaperAccount(t, 101, 10000)
		registry := account.NewStaticRegistry(ctx, []*account.Account{acc})
		queue := manager.NewQueue()
		eng := New(registry, queue, symbols.NewTable(), nil, metrics.New())

		sig := goldSignal()
		sig.Entries = []signal.Entry{
			{Kind: signal.EntryMarket},
			{Kind: signal.EntryLimit, Price: 2395},
		}
		eng.Execute(ctx, sig)

		regs := queue.Drain()
		require.Len(t, regs, 2, "every entry registers its own ticket")
		orders, err := sess.PendingOrders(ctx)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, venue.OrderBuyLimit, orders[0].Type)
		assert.InDelta(t, 2395.0, orders[0].Price, 1e-9)
	})

	t.Run("invalid signal is dropped", func(t *testing.T) {
		acc, _ := newPaperAccount(t, 101, 10000)
		registry := account.NewStaticRegistry(ctx, []*account.Account{acc})
		queue := manager.NewQueue()
		eng := New(registry, queue, symbols.NewTable(), nil, metrics.New())

		sig := goldSignal()
		sig.StopLoss = 0
		eng.Execute(ctx, sig)
		assert.Equal(t, 0, queue.Len())
	})

	t.Run("sell market fills at the bid", func(t *testing.T) {
		acc, sess := newPaperAccount(t, 101, 10000)
		registry := account.NewStaticRegistry(ctx, []*account.Account{acc})
		queue := manager.NewQueue()
		eng := New(registry, queue, symbols.NewTable(), nil, metrics.New())

		sig := goldSignal()
		sig.Direction = signal.Sell
		sig.Targets = []float64{2390}
		sig.StopLoss = 2410
		eng.Execute(ctx, sig)

		regs := queue.Drain()
		require.Len(t, regs, 1)
		pos, ok := sess.Position(regs[0].Ticket)
		require.True(t, ok)
		assert.Equal(t, venue.OrderSell, pos.Type)
		assert.InDelta(t, 2399.8, pos.PriceOpen, 1e-9)
	})
}
