// Package engine turns validated signals into venue orders. It fans one
// signal out to every active account, sizes each order from that account's
// balance and risk setting, and registers confirmed fills with the
// reconciliation controller.
package engine

import (
	"context"
	"fmt"
	"sync"

	"tradecopy/internal/account"
	"tradecopy/internal/journal"
	"tradecopy/internal/logger"
	"tradecopy/internal/manager"
	"tradecopy/internal/metrics"
	"tradecopy/internal/signal"
	"tradecopy/internal/symbols"
	"tradecopy/internal/venue"
)

type Engine struct {
	registry account.Registry
	queue    *manager.Queue
	symbols  *symbols.Table
	journal  *journal.Store
	metrics  *metrics.Metrics
}

func New(registry account.Registry, queue *manager.Queue, syms *symbols.Table, jrnl *journal.Store, m *metrics.Metrics) *Engine {
	return &Engine{registry: registry, queue: queue, symbols: syms, journal: jrnl, metrics: m}
}

// Execute copies one signal to every active account concurrently and returns
// when all accounts finished. Per-account failures are logged and journaled;
// they never abort the other accounts.
func (e *Engine) Execute(ctx context.Context, sig signal.Signal) {
	sig.Normalize()
	if err := sig.Validate(); err != nil {
		logger.Errorf("engine: dropping invalid signal: %v", err)
		return
	}
	if e.symbols != nil {
		sig.Symbol = e.symbols.Lookup(sig.Symbol)
	}

	accounts := e.registry.Active()
	if len(accounts) == 0 {
		logger.Warnf("engine: no active accounts, signal %s for %s dropped", sig.GroupID, sig.Symbol)
		return
	}
	logger.Infof("engine: copying signal %s (%s %s, %d entries, %d targets) to %d accounts",
		sig.GroupID, sig.Direction, sig.Symbol, len(sig.Entries), len(sig.Targets), len(accounts))

	var wg sync.WaitGroup
	for _, acc := range accounts {
		wg.Add(1)
		go func(acc *account.Account) {
			defer wg.Done()
			e.executeOn(ctx, acc, sig)
		}(acc)
	}
	wg.Wait()
}

// executeOn submits every entry of the signal on one account. Entries are
// serial under the account lock; a rejected entry does not stop the rest.
func (e *Engine) executeOn(ctx context.Context, acc *account.Account, sig signal.Signal) {
	err := acc.WithLock(func(sess venue.Session) error {
		acctInfo, err := sess.AccountInfo(ctx)
		if err != nil {
			return fmt.Errorf("account info: %w", err)
		}
		info, err := sess.SymbolInfo(ctx, sig.Symbol)
		if err != nil {
			return fmt.Errorf("symbol info for %s: %w", sig.Symbol, err)
		}

		for i, entry := range sig.Entries {
			price, orderType, err := resolveEntry(ctx, sess, sig, entry)
			if err != nil {
				logger.Errorf("engine: account %d entry %d/%d skipped: %v", acc.Login, i+1, len(sig.Entries), err)
				continue
			}
			volume, err := sizeOrder(acctInfo.Balance, acc.RiskPercent, info, price, sig.StopLoss, sig.TargetCount())
			if err != nil {
				logger.Errorf("engine: account %d entry %d/%d not sized: %v", acc.Login, i+1, len(sig.Entries), err)
				e.journalEntry(ctx, journal.Entry{
					Kind: "reject", Login: acc.Login, GroupID: sig.GroupID,
					Symbol: sig.Symbol, Comment: err.Error(),
				})
				if e.metrics != nil {
					e.metrics.OrdersFailed.Inc()
				}
				continue
			}
			e.submitEntry(ctx, sess, acc, sig, orderType, price, volume)
		}
		return nil
	})
	if err != nil {
		logger.Errorf("engine: account %d could not process signal %s: %v", acc.Login, sig.GroupID, err)
		if e.metrics != nil {
			e.metrics.OrdersFailed.Inc()
		}
	}
}

// resolveEntry determines the working price and venue order type for one
// entry point. Market entries price at the touch for sizing purposes.
func resolveEntry(ctx context.Context, sess venue.Session, sig signal.Signal, entry signal.Entry) (float64, venue.OrderType, error) {
	buy := sig.Direction == signal.Buy
	switch entry.Kind {
	case signal.EntryMarket:
		tick, err := sess.Quote(ctx, sig.Symbol)
		if err != nil {
			return 0, 0, fmt.Errorf("quote for %s: %w", sig.Symbol, err)
		}
		if buy {
			return tick.Ask, venue.OrderBuy, nil
		}
		return tick.Bid, venue.OrderSell, nil
	case signal.EntryLimit:
		if buy {
			return entry.Price, venue.OrderBuyLimit, nil
		}
		return entry.Price, venue.OrderSellLimit, nil
	case signal.EntryStop:
		if buy {
			return entry.Price, venue.OrderBuyStop, nil
		}
		return entry.Price, venue.OrderSellStop, nil
	default:
		return 0, 0, fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
}

// submitEntry places one order and, on venue confirmation, hands the ticket
// to the reconciliation controller. The group id rides in the order comment
// so positions can be re-correlated after a restart even if local state is
// lost; the login doubles as the magic tag.
func (e *Engine) submitEntry(ctx context.Context, sess venue.Session, acc *account.Account, sig signal.Signal, orderType venue.OrderType, price, volume float64) {
	req := venue.OrderRequest{
		Symbol:     sig.Symbol,
		Type:       orderType,
		Volume:     volume,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.FinalTarget(),
		Magic:      acc.Login,
		Comment:    "GID:" + sig.GroupID,
	}
	if orderType.Pending() {
		req.Price = price
	}

	res, err := sess.Submit(ctx, req)
	if err != nil {
		logger.Errorf("engine: account %d submit %s %s %.4f failed: %v",
			acc.Login, orderType, sig.Symbol, volume, err)
		e.journalEntry(ctx, journal.Entry{
			Kind: "reject", Login: acc.Login, GroupID: sig.GroupID, Symbol: sig.Symbol,
			Volume: volume, Price: price, Comment: err.Error(),
		})
		if e.metrics != nil {
			e.metrics.OrdersFailed.Inc()
		}
		return
	}

	logger.Infof("engine: account %d: %s %s %.4f lots, ticket %d (group %s)",
		acc.Login, orderType, sig.Symbol, volume, res.Ticket, sig.GroupID)
	e.journalEntry(ctx, journal.Entry{
		Kind: "submit", Login: acc.Login, Ticket: res.Ticket, GroupID: sig.GroupID,
		Symbol: sig.Symbol, Volume: volume, Price: price, Code: res.Code, Comment: res.Comment,
	})
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.Inc()
	}
	e.queue.Push(manager.Registration{
		Ticket:         res.Ticket,
		Login:          acc.Login,
		Signal:         sig,
		OriginalVolume: volume,
		GroupID:        sig.GroupID,
	})
}

func (e *Engine) journalEntry(ctx context.Context, entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		logger.Warnf("engine: journaling %s failed: %v", entry.Kind, err)
	}
}
