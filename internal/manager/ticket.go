package manager

import (
	"context"

	"tradecopy/internal/signal"
)

// Ticket is the locally remembered intent for one venue ticket: which signal
// spawned it, how large it originally was and how far its take-profit ladder
// has progressed. A ticket exists here iff the engine registered it and it
// has not yet vanished from the venue.
type Ticket struct {
	Ticket         int64         `json:"ticket"`
	Login          int64         `json:"account_login"`
	Signal         signal.Signal `json:"signal"`
	OriginalVolume float64       `json:"original_volume"`
	// ClosedTargets lists already-triggered take-profit indices (1-based).
	// It only ever grows and never repeats an index.
	ClosedTargets []int `json:"closed_targets"`
	// Secured flips false to true exactly once, after the venue confirmed
	// the stop-loss move to entry.
	Secured            bool    `json:"is_secured"`
	GroupID            string  `json:"group_id"`
	PendingCloseVolume float64 `json:"pending_close_volume"`
}

// HasClosedTarget reports whether target index n already triggered.
func (t *Ticket) HasClosedTarget(n int) bool {
	for _, c := range t.ClosedTargets {
		if c == n {
			return true
		}
	}
	return false
}

func (t *Ticket) clone() *Ticket {
	cp := *t
	cp.ClosedTargets = append([]int(nil), t.ClosedTargets...)
	cp.Signal.Entries = append([]signal.Entry(nil), t.Signal.Entries...)
	cp.Signal.Targets = append([]float64(nil), t.Signal.Targets...)
	return &cp
}

// Store persists the managed state wholesale. At the expected scale (tens of
// open tickets) a full rewrite per mutating iteration is simpler and safer
// than incremental logging.
type Store interface {
	Load(ctx context.Context) (map[int64]*Ticket, error)
	ReplaceAll(ctx context.Context, state map[int64]*Ticket) error
}

// Registration is the handoff record pushed by the execution engine once the
// venue confirmed a submission.
type Registration struct {
	Ticket         int64
	Login          int64
	Signal         signal.Signal
	OriginalVolume float64
	GroupID        string
}
