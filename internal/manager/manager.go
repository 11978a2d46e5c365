// Package manager runs the position reconciliation loop: it drains engine
// registrations, reconciles remembered intent against the live venue
// snapshot, decides corrective actions and applies them, persisting state
// after every mutating iteration.
package manager

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"tradecopy/internal/account"
	"tradecopy/internal/journal"
	"tradecopy/internal/logger"
	"tradecopy/internal/metrics"
	"tradecopy/internal/venue"
)

// Config carries the loop tunables. Both values are deployment
// configuration, not hidden constants.
type Config struct {
	PollInterval  time.Duration
	TP1BufferPips float64
}

// Manager owns ManagedState. One non-reentrant mutex guards the state map;
// internal helpers never re-acquire a lock their caller already holds, and
// venue round-trips happen only with the lock released.
type Manager struct {
	cfg      Config
	registry account.Registry
	queue    *Queue
	store    Store
	journal  *journal.Store
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state map[int64]*Ticket
	dirty bool
}

func New(cfg Config, registry account.Registry, queue *Queue, store Store, jrnl *journal.Store, m *metrics.Metrics) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		store:    store,
		journal:  jrnl,
		metrics:  m,
		state:    make(map[int64]*Ticket),
	}
}

// Recover loads the persisted snapshot. Unreadable state is discarded and
// replaced by an empty one; the store logs the specifics.
func (m *Manager) Recover(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.Load(ctx)
	if err != nil {
		logger.Errorf("manager: loading persisted state failed, starting fresh: %v", err)
		loaded = make(map[int64]*Ticket)
	}
	m.mu.Lock()
	m.state = loaded
	m.mu.Unlock()
	logger.Infof("manager: recovered %d managed tickets", len(loaded))
	return nil
}

// Run executes the reconciliation loop until ctx is cancelled, then performs
// one final state save.
func (m *Manager) Run(ctx context.Context) error {
	logger.Infof("manager: started, interval=%s tp1_buffer_pips=%.1f", m.cfg.PollInterval, m.cfg.TP1BufferPips)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.saveState(context.Background(), true)
			logger.Infof("manager: shut down")
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick is one reconciliation iteration. A panic anywhere inside must not
// kill the loop.
func (m *Manager) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("manager: iteration panic: %v\n%s", r, debug.Stack())
		}
	}()

	snap := m.takeSnapshot(ctx)

	var actions []Action
	m.mu.Lock()
	if m.ingestLocked() {
		m.dirty = true
	}
	actions = append(actions, m.ghostsLocked(snap)...)
	if m.pruneLocked(snap) {
		m.dirty = true
	}
	decided, mutated := m.decideLocked(snap)
	actions = append(actions, decided...)
	if mutated {
		m.dirty = true
	}
	managed := len(m.state)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ManagedTickets.Set(float64(managed))
	}

	// Corrective actions run outside the state lock so a slow venue
	// round-trip never blocks bookkeeping.
	m.apply(ctx, snap, actions)

	m.saveState(ctx, false)
	if m.metrics != nil {
		m.metrics.ReconcileTicks.Inc()
	}
}

// ingestLocked materializes queued registrations into managed tickets.
func (m *Manager) ingestLocked() bool {
	regs := m.queue.Drain()
	for _, reg := range regs {
		m.state[reg.Ticket] = &Ticket{
			Ticket:         reg.Ticket,
			Login:          reg.Login,
			Signal:         reg.Signal,
			OriginalVolume: reg.OriginalVolume,
			ClosedTargets:  []int{},
			GroupID:        reg.GroupID,
		}
		logger.Infof("manager: ticket %d (group %s) registered for management", reg.Ticket, reg.GroupID)
	}
	return len(regs) > 0
}

// ghostsLocked flags venue positions unknown to managed state. They are
// closed full volume for safety: the venue account is supposed to be driven
// by this process alone.
func (m *Manager) ghostsLocked(snap *snapshot) []Action {
	var out []Action
	for _, ap := range snap.positions {
		if _, ok := m.state[ap.pos.Ticket]; ok {
			continue
		}
		logger.Warnf("manager: ghost position on account %d: ticket %d symbol %s, closing for safety",
			ap.login, ap.pos.Ticket, ap.pos.Symbol)
		out = append(out, CloseGhost{Login: ap.login, Ticket: ap.pos.Ticket, Symbol: ap.pos.Symbol, Volume: ap.pos.Volume})
	}
	return out
}

// pruneLocked removes tickets no longer present on the venue, assumed closed
// or cancelled externally.
func (m *Manager) pruneLocked(snap *snapshot) bool {
	active := make(map[int64]bool, len(snap.positions)+len(snap.orders))
	for _, ap := range snap.positions {
		active[ap.pos.Ticket] = true
	}
	for _, ao := range snap.orders {
		active[ao.order.Ticket] = true
	}
	changed := false
	for ticket, t := range m.state {
		if active[ticket] {
			continue
		}
		logger.Infof("manager: ticket %d (group %s) no longer active on venue, removing", ticket, t.GroupID)
		delete(m.state, ticket)
		changed = true
	}
	return changed
}

// Tickets returns a copy of the managed state for inspection endpoints.
func (m *Manager) Tickets() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Ticket, 0, len(m.state))
	for _, t := range m.state {
		out = append(out, *t.clone())
	}
	return out
}

// saveState persists a copy of the state map when the iteration changed
// anything (or unconditionally on shutdown).
func (m *Manager) saveState(ctx context.Context, force bool) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	if !m.dirty && !force {
		m.mu.Unlock()
		return
	}
	cp := make(map[int64]*Ticket, len(m.state))
	for k, v := range m.state {
		cp[k] = v.clone()
	}
	m.dirty = false
	m.mu.Unlock()
	if err := m.store.ReplaceAll(ctx, cp); err != nil {
		logger.Errorf("manager: persisting state failed: %v", err)
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
	}
}

// snapshot is the read-only view of the venue gathered at the top of an
// iteration.
type snapshot struct {
	positions []accountPosition
	orders    []accountOrder
	quotes    map[string]venue.Tick
	infos     map[string]venue.SymbolInfo
}

type accountPosition struct {
	pos   venue.Position
	login int64
}

type accountOrder struct {
	order venue.PendingOrder
	login int64
}

// takeSnapshot lists open positions and pending orders for every connected
// account and collects quotes plus instrument metadata for every symbol seen.
// Read-only; venue errors degrade the snapshot rather than failing the tick.
func (m *Manager) takeSnapshot(ctx context.Context) *snapshot {
	snap := &snapshot{
		quotes: make(map[string]venue.Tick),
		infos:  make(map[string]venue.SymbolInfo),
	}
	for _, acc := range m.registry.Active() {
		login := acc.Login
		err := acc.WithLock(func(sess venue.Session) error {
			positions, err := sess.Positions(ctx)
			if err != nil {
				logger.Warnf("manager: listing positions failed for account %d: %v", login, err)
				return nil
			}
			orders, err := sess.PendingOrders(ctx)
			if err != nil {
				logger.Warnf("manager: listing pending orders failed for account %d: %v", login, err)
				orders = nil
			}
			for _, pos := range positions {
				snap.positions = append(snap.positions, accountPosition{pos: pos, login: login})
				if _, ok := snap.quotes[pos.Symbol]; !ok {
					if tick, err := sess.Quote(ctx, pos.Symbol); err == nil {
						snap.quotes[pos.Symbol] = tick
					}
				}
				if _, ok := snap.infos[pos.Symbol]; !ok {
					if info, err := sess.SymbolInfo(ctx, pos.Symbol); err == nil {
						snap.infos[pos.Symbol] = info
					}
				}
			}
			for _, ord := range orders {
				snap.orders = append(snap.orders, accountOrder{order: ord, login: login})
			}
			return nil
		})
		if err != nil {
			logger.Warnf("manager: snapshot failed for account %d: %v", login, err)
		}
	}
	return snap
}
