package manager

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"tradecopy/internal/journal"
	"tradecopy/internal/logger"
	"tradecopy/internal/venue"
)

// apply executes planned actions against the venue. The state lock is not
// held here; helpers take short locks only to flip flags after confirmed
// calls. Group securing is deduplicated per iteration.
func (m *Manager) apply(ctx context.Context, snap *snapshot, actions []Action) {
	if len(actions) == 0 {
		return
	}
	securedGroups := make(map[string]bool)
	for _, act := range actions {
		switch a := act.(type) {
		case ClosePartial:
			m.applyClose(ctx, snap, a.Login, a.Ticket, a.Symbol, a.Volume, "close_partial")
		case CloseGhost:
			m.applyClose(ctx, snap, a.Login, a.Ticket, a.Symbol, a.Volume, "close_ghost")
		case SecureGroup:
			if securedGroups[a.GroupID] {
				continue
			}
			m.applySecureGroup(ctx, snap, a.GroupID)
			m.cancelGroupPending(ctx, snap, a.GroupID)
			securedGroups[a.GroupID] = true
		case CancelPending:
			m.applyCancel(ctx, a.Login, a.Ticket)
		}
	}
}

// applyClose sends a (partial or full) close for one position. The volume is
// clamped to instrument limits and to what is actually still open.
func (m *Manager) applyClose(ctx context.Context, snap *snapshot, login, ticket int64, symbol string, volume float64, kind string) {
	acc, ok := m.registry.ByLogin(login)
	if !ok {
		logger.Warnf("manager: no active account %d for close of ticket %d", login, ticket)
		return
	}
	err := acc.WithLock(func(sess venue.Session) error {
		info, ok := snap.infos[symbol]
		if !ok {
			var err error
			info, err = sess.SymbolInfo(ctx, symbol)
			if err != nil {
				return err
			}
		}
		open := volume
		for _, ap := range snap.positions {
			if ap.pos.Ticket == ticket {
				open = ap.pos.Volume
				break
			}
		}
		vol := clampCloseVolume(volume, open, info)
		if vol < info.VolumeMin {
			logger.Warnf("manager: close volume %.4f for ticket %d is below minimum %.4f, aborting close",
				vol, ticket, info.VolumeMin)
			return nil
		}
		if err := sess.ClosePartial(ctx, ticket, vol); err != nil {
			return err
		}
		logger.Infof("manager: closed %.4f lots of ticket %d (%s)", vol, ticket, kind)
		m.journalAction(ctx, journal.Entry{Kind: kind, Login: login, Ticket: ticket, Symbol: symbol, Volume: vol})
		m.clearPendingClose(ticket)
		return nil
	})
	if err != nil {
		m.reportActionError(kind, login, ticket, err)
		return
	}
	if m.metrics != nil {
		m.metrics.ActionsApplied.WithLabelValues(kind).Inc()
	}
}

// applySecureGroup moves the stop-loss of every unsecured open member to its
// own entry price. The secured flag is flipped only after the venue confirms
// the modification; on failure it stays unset and the next iteration retries.
func (m *Manager) applySecureGroup(ctx context.Context, snap *snapshot, groupID string) {
	logger.Infof("manager: securing group %s", groupID)
	for _, ap := range snap.positions {
		ticket := ap.pos.Ticket
		m.mu.Lock()
		t, ok := m.state[ticket]
		needs := ok && t.GroupID == groupID && !t.Secured
		m.mu.Unlock()
		if !needs {
			continue
		}
		acc, ok := m.registry.ByLogin(ap.login)
		if !ok {
			continue
		}
		entry := ap.pos.PriceOpen
		err := acc.WithLock(func(sess venue.Session) error {
			return sess.ModifySLTP(ctx, ticket, entry, ap.pos.TakeProfit)
		})
		if err != nil {
			m.reportActionError("secure", ap.login, ticket, err)
			continue
		}
		m.mu.Lock()
		if t, ok := m.state[ticket]; ok {
			t.Secured = true
			m.dirty = true
		}
		m.mu.Unlock()
		logger.Infof("manager: secured ticket %d, stop-loss moved to entry %.5g", ticket, entry)
		m.journalAction(ctx, journal.Entry{Kind: "secure", Login: ap.login, Ticket: ticket, Symbol: ap.pos.Symbol, Price: entry, GroupID: groupID})
		if m.metrics != nil {
			m.metrics.ActionsApplied.WithLabelValues("secure_group").Inc()
		}
	}
}

// cancelGroupPending deletes resting entries of a secured group: once profit
// is locked no further entries are wanted.
func (m *Manager) cancelGroupPending(ctx context.Context, snap *snapshot, groupID string) {
	for _, ao := range snap.orders {
		m.mu.Lock()
		t, ok := m.state[ao.order.Ticket]
		member := ok && t.GroupID == groupID
		m.mu.Unlock()
		if !member {
			continue
		}
		m.applyCancel(ctx, ao.login, ao.order.Ticket)
	}
}

func (m *Manager) applyCancel(ctx context.Context, login, ticket int64) {
	acc, ok := m.registry.ByLogin(login)
	if !ok {
		return
	}
	err := acc.WithLock(func(sess venue.Session) error {
		return sess.CancelOrder(ctx, ticket)
	})
	if err != nil {
		m.reportActionError("cancel_pending", login, ticket, err)
		return
	}
	logger.Infof("manager: cancelled pending order %d", ticket)
	m.journalAction(ctx, journal.Entry{Kind: "cancel_pending", Login: login, Ticket: ticket})
	if m.metrics != nil {
		m.metrics.ActionsApplied.WithLabelValues("cancel_pending").Inc()
	}
}

func (m *Manager) clearPendingClose(ticket int64) {
	m.mu.Lock()
	if t, ok := m.state[ticket]; ok && t.PendingCloseVolume != 0 {
		t.PendingCloseVolume = 0
		m.dirty = true
	}
	m.mu.Unlock()
}

// journalAction records an applied action in the audit journal. Journal
// failures are logged and swallowed; the trade already happened.
func (m *Manager) journalAction(ctx context.Context, e journal.Entry) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(ctx, e); err != nil {
		logger.Warnf("manager: journaling %s for ticket %d failed: %v", e.Kind, e.Ticket, err)
	}
}

// reportActionError logs a venue rejection with its code/comment when
// available and bumps the failure counter.
func (m *Manager) reportActionError(kind string, login, ticket int64, err error) {
	var verr *venue.Error
	if errors.As(err, &verr) {
		logger.Errorf("manager: %s failed for ticket %d on account %d: code=%d comment=%q",
			kind, ticket, login, verr.Code, verr.Comment)
	} else {
		logger.Errorf("manager: %s failed for ticket %d on account %d: %v", kind, ticket, login, err)
	}
	if m.metrics != nil {
		m.metrics.ActionsFailed.WithLabelValues(kind).Inc()
	}
}

// clampCloseVolume enforces instrument limits on a close request: at least
// the minimum, aligned to the volume step, never more than what is open.
func clampCloseVolume(volume, open float64, info venue.SymbolInfo) float64 {
	v := decimal.NewFromFloat(volume)
	minVol := decimal.NewFromFloat(info.VolumeMin)
	if v.LessThan(minVol) {
		v = minVol
	}
	if info.VolumeStep > 0 {
		step := decimal.NewFromFloat(info.VolumeStep)
		v = v.Div(step).Round(0).Mul(step)
	}
	openDec := decimal.NewFromFloat(open)
	if v.GreaterThan(openDec) {
		v = openDec
	}
	f, _ := v.Float64()
	return f
}
