package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecopy/internal/account"
	"tradecopy/internal/metrics"
	"tradecopy/internal/signal"
	"tradecopy/internal/venue"
	"tradecopy/internal/venue/paper"
)

// memStore is an in-memory manager.Store for loop tests; persistence against
// the real database is covered in the store package.
type memStore struct {
	state   map[int64]*Ticket
	saves   int
	loadErr error
	saveErr error
}

func (s *memStore) Load(ctx context.Context) (map[int64]*Ticket, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[int64]*Ticket, len(s.state))
	for k, v := range s.state {
		out[k] = v.clone()
	}
	return out, nil
}

func (s *memStore) ReplaceAll(ctx context.Context, state map[int64]*Ticket) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.state = make(map[int64]*Ticket, len(state))
	for k, v := range state {
		s.state[k] = v.clone()
	}
	return nil
}

type fixture struct {
	mgr   *Manager
	sess  *paper.Session
	queue *Queue
	store *memStore
}

func newFixture(t *testing.T, bufferPips float64) *fixture {
	t.Helper()
	sess := paper.NewSession(101, 10000)
	sess.SetSymbol(venue.SymbolInfo{
		Symbol: "XAUUSD", TickValue: 1, TickSize: 0.01,
		VolumeMin: 0.01, VolumeStep: 0.01, VolumeMax: 100, Digits: 2,
	})
	sess.SetTick("XAUUSD", 2399.8, 2400.0)
	acc := account.New(101, 1.0, sess)
	registry := account.NewStaticRegistry(context.Background(), []*account.Account{acc})
	queue := NewQueue()
	st := &memStore{}
	mgr := New(Config{PollInterval: time.Second, TP1BufferPips: bufferPips}, registry, queue, st, nil, metrics.New())
	return &fixture{mgr: mgr, sess: sess, queue: queue, store: st}
}

func (f *fixture) openManaged(t *testing.T, sig signal.Signal, volume float64) int64 {
	t.Helper()
	ticket := f.sess.OpenRaw(venue.Position{
		Symbol:     sig.Symbol,
		Type:       directionType(sig.Direction),
		Volume:     volume,
		PriceOpen:  2400.0,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.FinalTarget(),
		Magic:      101,
		Comment:    "GID:" + sig.GroupID,
	})
	f.queue.Push(Registration{
		Ticket: ticket, Login: 101, Signal: sig,
		OriginalVolume: volume, GroupID: sig.GroupID,
	})
	return ticket
}

func directionType(d signal.Direction) venue.OrderType {
	if d == signal.Sell {
		return venue.OrderSell
	}
	return venue.OrderBuy
}

func buySignal(targets ...float64) signal.Signal {
	return signal.Signal{
		Symbol:    "XAUUSD",
		Direction: signal.Buy,
		Entries:   []signal.Entry{{Kind: signal.EntryMarket}},
		Targets:   targets,
		StopLoss:  2390,
		GroupID:   "grp-1",
	}
}

func TestManagerTakeProfitLadder(t *testing.T) {
	ctx := context.Background()

	t.Run("first target closes a share and secures the group", func(t *testing.T) {
		f := newFixture(t, 0)
		sig := buySignal(2405, 2410)
		ticket := f.openManaged(t, sig, 0.10)
		pendingTicket := restPendingOrder(t, f.sess, sig)
		f.queue.Push(Registration{
			Ticket: pendingTicket, Login: 101, Signal: sig,
			OriginalVolume: 0.10, GroupID: sig.GroupID,
		})

		f.sess.SetTick("XAUUSD", 2405.0, 2405.2)
		f.mgr.tick(ctx)

		pos, ok := f.sess.Position(ticket)
		require.True(t, ok)
		assert.InDelta(t, 0.05, pos.Volume, 1e-9, "half the position closes at the first target")
		assert.InDelta(t, 2400.0, pos.StopLoss, 1e-9, "stop moves to entry")

		orders, err := f.sess.PendingOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, orders, "securing cancels the group's resting entries")

		tickets := f.mgr.Tickets()
		st := findTicket(t, tickets, ticket)
		assert.Equal(t, []int{1}, st.ClosedTargets)
		assert.True(t, st.Secured)
		assert.Zero(t, st.PendingCloseVolume, "cleared after the close confirmed")
		assert.Greater(t, f.store.saves, 0, "mutating iterations persist")
	})

	t.Run("same price twice triggers only once", func(t *testing.T) {
		f := newFixture(t, 0)
		ticket := f.openManaged(t, buySignal(2405, 2410), 0.10)

		f.sess.SetTick("XAUUSD", 2405.0, 2405.2)
		f.mgr.tick(ctx)
		saves := f.store.saves
		f.mgr.tick(ctx)

		pos, ok := f.sess.Position(ticket)
		require.True(t, ok)
		assert.InDelta(t, 0.05, pos.Volume, 1e-9, "a consumed target never re-fires")
		assert.Equal(t, saves, f.store.saves, "a quiet iteration does not rewrite state")
	})

	t.Run("final target empties the position, prune follows", func(t *testing.T) {
		f := newFixture(t, 0)
		ticket := f.openManaged(t, buySignal(2405, 2410), 0.10)

		f.sess.SetTick("XAUUSD", 2405.0, 2405.2)
		f.mgr.tick(ctx)
		f.sess.SetTick("XAUUSD", 2410.0, 2410.2)
		f.mgr.tick(ctx)

		_, ok := f.sess.Position(ticket)
		assert.False(t, ok, "second share closes the remainder")

		f.mgr.tick(ctx)
		assert.Empty(t, f.mgr.Tickets(), "vanished tickets are pruned")
	})

	t.Run("one transition per position per iteration", func(t *testing.T) {
		f := newFixture(t, 0)
		ticket := f.openManaged(t, buySignal(2405, 2410), 0.10)

		// Price gaps straight through both targets.
		f.sess.SetTick("XAUUSD", 2412.0, 2412.2)
		f.mgr.tick(ctx)

		pos, ok := f.sess.Position(ticket)
		require.True(t, ok)
		assert.InDelta(t, 0.05, pos.Volume, 1e-9, "only the first target fires this iteration")

		f.mgr.tick(ctx)
		_, ok = f.sess.Position(ticket)
		assert.False(t, ok, "the next iteration takes the second target")
	})

	t.Run("pip buffer applies to the first target only", func(t *testing.T) {
		f := newFixture(t, 5) // pip is 0.01 for gold, so the buffer is 0.05
		ticket := f.openManaged(t, buySignal(2405, 2410), 0.10)

		f.sess.SetTick("XAUUSD", 2404.95, 2404.96)
		f.mgr.tick(ctx)

		pos, ok := f.sess.Position(ticket)
		require.True(t, ok)
		assert.InDelta(t, 0.05, pos.Volume, 1e-9, "price within the buffer counts as a TP1 hit")
	})

	t.Run("sell positions use the bid and reversed comparison", func(t *testing.T) {
		f := newFixture(t, 0)
		sig := signal.Signal{
			Symbol: "XAUUSD", Direction: signal.Sell,
			Entries:  []signal.Entry{{Kind: signal.EntryMarket}},
			Targets:  []float64{2395, 2390},
			StopLoss: 2410, GroupID: "grp-s",
		}
		ticket := f.openManaged(t, sig, 0.10)

		f.sess.SetTick("XAUUSD", 2395.0, 2395.2)
		f.mgr.tick(ctx)

		pos, ok := f.sess.Position(ticket)
		require.True(t, ok)
		assert.InDelta(t, 0.05, pos.Volume, 1e-9)
	})
}

func TestManagerSecuringRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("failed stop move retries until confirmed", func(t *testing.T) {
		f := newFixture(t, 0)
		ticket := f.openManaged(t, buySignal(2405, 2410), 0.10)
		f.sess.ModifyErr = errors.New("requote")

		f.sess.SetTick("XAUUSD", 2405.0, 2405.2)
		f.mgr.tick(ctx)

		st := findTicket(t, f.mgr.Tickets(), ticket)
		assert.False(t, st.Secured, "flag only flips on venue confirmation")

		f.sess.ModifyErr = nil
		f.mgr.tick(ctx)

		st = findTicket(t, f.mgr.Tickets(), ticket)
		assert.True(t, st.Secured)
		pos, _ := f.sess.Position(ticket)
		assert.InDelta(t, 2400.0, pos.StopLoss, 1e-9)
	})

	t.Run("partially secured group keeps retrying the rest", func(t *testing.T) {
		f := newFixture(t, 0)
		sig := buySignal(2405, 2410)
		first := f.openManaged(t, sig, 0.10)
		second := f.openManaged(t, sig, 0.10)
		f.sess.ModifyErr = errors.New("requote")

		f.sess.SetTick("XAUUSD", 2405.0, 2405.2)
		f.mgr.tick(ctx)

		// One member's stop move lands out of band, the other stays exposed.
		f.mgr.mu.Lock()
		f.mgr.state[first].Secured = true
		f.mgr.mu.Unlock()
		f.sess.ModifyErr = nil

		f.sess.SetTick("XAUUSD", 2400.0, 2400.2)
		f.mgr.tick(ctx)

		st := findTicket(t, f.mgr.Tickets(), second)
		assert.True(t, st.Secured, "retries continue while any member is unsecured")
		pos, ok := f.sess.Position(second)
		require.True(t, ok)
		assert.InDelta(t, 2400.0, pos.StopLoss, 1e-9, "the exposed member's stop moves to entry")
	})

	t.Run("rejected partial close is not retried", func(t *testing.T) {
		f := newFixture(t, 0)
		ticket := f.openManaged(t, buySignal(2405, 2410), 0.10)
		f.sess.CloseErr = errors.New("market closed")

		f.sess.SetTick("XAUUSD", 2405.0, 2405.2)
		f.mgr.tick(ctx)

		st := findTicket(t, f.mgr.Tickets(), ticket)
		assert.Equal(t, []int{1}, st.ClosedTargets, "target consumed before the close ran")

		f.sess.CloseErr = nil
		f.mgr.tick(ctx)

		pos, ok := f.sess.Position(ticket)
		require.True(t, ok)
		assert.InDelta(t, 0.10, pos.Volume, 1e-9, "the missed close must not double-fire later")
	})
}

func TestManagerGhostsAndRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown venue position is closed", func(t *testing.T) {
		f := newFixture(t, 0)
		ghost := f.sess.OpenRaw(venue.Position{
			Symbol: "XAUUSD", Type: venue.OrderBuy, Volume: 0.30, PriceOpen: 2380,
		})

		f.mgr.tick(ctx)

		_, ok := f.sess.Position(ghost)
		assert.False(t, ok)
		assert.Empty(t, f.mgr.Tickets())
	})

	t.Run("recover loads persisted state", func(t *testing.T) {
		f := newFixture(t, 0)
		f.store.state = map[int64]*Ticket{
			7001: {Ticket: 7001, Login: 101, Signal: buySignal(2405), OriginalVolume: 0.10, ClosedTargets: []int{}, GroupID: "grp-1"},
		}
		require.NoError(t, f.mgr.Recover(ctx))
		st := findTicket(t, f.mgr.Tickets(), 7001)
		assert.Equal(t, "grp-1", st.GroupID)
	})

	t.Run("unreadable state starts fresh", func(t *testing.T) {
		f := newFixture(t, 0)
		f.store.loadErr = errors.New("disk corrupt")
		require.NoError(t, f.mgr.Recover(ctx))
		assert.Empty(t, f.mgr.Tickets())
	})

	t.Run("failed save retried on the next mutating tick", func(t *testing.T) {
		f := newFixture(t, 0)
		f.openManaged(t, buySignal(2405, 2410), 0.10)
		f.store.saveErr = errors.New("disk full")

		f.mgr.tick(ctx)
		assert.Equal(t, 0, f.store.saves)

		f.store.saveErr = nil
		f.mgr.tick(ctx)
		assert.Greater(t, f.store.saves, 0, "dirty flag survives a failed save")
	})
}

func restPendingOrder(t *testing.T, sess *paper.Session, sig signal.Signal) int64 {
	t.Helper()
	res, err := sess.Submit(context.Background(), venue.OrderRequest{
		Symbol:  sig.Symbol,
		Type:    venue.OrderBuyLimit,
		Volume:  0.10,
		Price:   2395,
		Magic:   101,
		Comment: "GID:" + sig.GroupID,
	})
	require.NoError(t, err)
	return res.Ticket
}

func findTicket(t *testing.T, tickets []Ticket, ticket int64) Ticket {
	t.Helper()
	for _, st := range tickets {
		if st.Ticket == ticket {
			return st
		}
	}
	t.Fatalf("ticket %d not in managed state", ticket)
	return Ticket{}
}
