package manager

// Action is a corrective step decided during an iteration and applied after
// the state lock is released. The set is closed: these four kinds are the
// only mutations the controller performs against the venue.
type Action interface {
	kind() string
}

// ClosePartial books profit on one position after a take-profit hit.
type ClosePartial struct {
	Login  int64
	Ticket int64
	Symbol string
	Volume float64
}

// SecureGroup moves every group member's stop-loss to its own entry price and
// cancels the group's still-pending entries.
type SecureGroup struct {
	GroupID string
}

// CancelPending deletes one resting, unfilled order.
type CancelPending struct {
	Login  int64
	Ticket int64
}

// CloseGhost force-closes a venue position unknown to managed state, full
// volume.
type CloseGhost struct {
	Login  int64
	Ticket int64
	Symbol string
	Volume float64
}

func (ClosePartial) kind() string  { return "close_partial" }
func (SecureGroup) kind() string   { return "secure_group" }
func (CancelPending) kind() string { return "cancel_pending" }
func (CloseGhost) kind() string    { return "close_ghost" }
