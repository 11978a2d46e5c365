package manager

import (
	"github.com/shopspring/decimal"

	"tradecopy/internal/logger"
	"tradecopy/internal/venue"
)

// decideLocked walks every managed open position and plans at most one
// take-profit transition per position for this iteration. Caller holds the
// state lock; no venue calls happen here.
//
// A hit target is recorded as consumed before its close order runs. That
// makes partial closes at-most-once: a close the venue rejects is not
// retried on the next iteration. Securing, by contrast, retries until the
// venue confirms.
func (m *Manager) decideLocked(snap *snapshot) ([]Action, bool) {
	var actions []Action
	mutated := false

	// Groups already planned for securing this iteration. Only this-iteration
	// scheduling is deduplicated: a group with any unsecured member must keep
	// getting rescheduled, and applySecureGroup skips secured members anyway.
	scheduled := make(map[string]bool)

	for _, ap := range snap.positions {
		pos := ap.pos
		t, ok := m.state[pos.Ticket]
		if !ok {
			// Ghosts are handled separately.
			continue
		}
		info, ok := snap.infos[pos.Symbol]
		if !ok {
			continue
		}
		tick, ok := snap.quotes[pos.Symbol]
		if !ok {
			continue
		}
		price := tick.Ask
		if pos.Type == venue.OrderSell {
			price = tick.Bid
		}

		for i, target := range t.Signal.Targets {
			n := i + 1
			if t.HasClosedTarget(n) {
				continue
			}
			// The pip buffer tolerates quote noise around target 1
			// before committing the group to the securing action.
			buffer := 0.0
			if n == 1 {
				buffer = m.cfg.TP1BufferPips * venue.PipSize(info)
			}
			if !targetHit(pos.Type, price, target, buffer) {
				continue
			}

			logger.Infof("manager: TP%d (%.5g) hit for ticket %d at price %.5g", n, target, pos.Ticket, price)
			t.ClosedTargets = append(t.ClosedTargets, n)
			share := perTargetShare(t.OriginalVolume, t.Signal.TargetCount())
			t.PendingCloseVolume = share
			mutated = true
			actions = append(actions, ClosePartial{
				Login:  t.Login,
				Ticket: pos.Ticket,
				Symbol: pos.Symbol,
				Volume: share,
			})
			if n == 1 && t.GroupID != "" && !scheduled[t.GroupID] {
				actions = append(actions, SecureGroup{GroupID: t.GroupID})
				scheduled[t.GroupID] = true
			}
			// One transition per position per iteration.
			break
		}
	}

	// Re-schedule securing for groups whose target 1 already triggered but
	// that still have unsecured members or resting entries: a failed
	// stop-loss move or cancel retries until the venue confirms.
	for _, groupID := range m.groupsDueSecuringLocked(snap) {
		if scheduled[groupID] {
			continue
		}
		actions = append(actions, SecureGroup{GroupID: groupID})
		scheduled[groupID] = true
	}

	return actions, mutated
}

// groupsDueSecuringLocked returns groups where securing already started
// (target 1 consumed on some member) but has not fully landed.
func (m *Manager) groupsDueSecuringLocked(snap *snapshot) []string {
	triggered := make(map[string]bool)
	for _, t := range m.state {
		if t.GroupID != "" && t.HasClosedTarget(1) {
			triggered[t.GroupID] = true
		}
	}
	if len(triggered) == 0 {
		return nil
	}
	pendingByGroup := make(map[string]bool)
	for _, ao := range snap.orders {
		if t, ok := m.state[ao.order.Ticket]; ok && t.GroupID != "" {
			pendingByGroup[t.GroupID] = true
		}
	}
	var due []string
	for groupID := range triggered {
		incomplete := pendingByGroup[groupID]
		if !incomplete {
			for _, ap := range snap.positions {
				t, ok := m.state[ap.pos.Ticket]
				if ok && t.GroupID == groupID && !t.Secured {
					incomplete = true
					break
				}
			}
		}
		if incomplete {
			due = append(due, groupID)
		}
	}
	return due
}

// targetHit applies the direction-adjusted reached-or-passed test.
func targetHit(posType venue.OrderType, price, target, buffer float64) bool {
	p := decimal.NewFromFloat(price)
	if posType == venue.OrderBuy {
		return p.GreaterThanOrEqual(decimal.NewFromFloat(target).Sub(decimal.NewFromFloat(buffer)))
	}
	return p.LessThanOrEqual(decimal.NewFromFloat(target).Add(decimal.NewFromFloat(buffer)))
}

// perTargetShare splits the original volume evenly across targets, rounded
// to lot precision.
func perTargetShare(originalVolume float64, targets int) float64 {
	if targets <= 0 {
		targets = 1
	}
	share := decimal.NewFromFloat(originalVolume).
		Div(decimal.NewFromInt(int64(targets))).
		Round(2)
	f, _ := share.Float64()
	return f
}
