// Package signal defines the parsed trading instruction contract consumed by
// the execution engine. The upstream channel listener and text parser live
// outside this process; whatever they do internally, they deliver this shape.
package signal

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Direction is the trade side of a signal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// EntryKind distinguishes immediate deals from resting entries.
type EntryKind string

const (
	EntryMarket EntryKind = "MARKET"
	EntryLimit  EntryKind = "LIMIT"
	EntryStop   EntryKind = "STOP"
)

// Entry is a single entry point of a signal.
type Entry struct {
	Kind  EntryKind `json:"kind"`
	Price float64   `json:"price"`
}

// Signal is one parsed trading instruction. GroupID correlates every order
// and position spawned from it, across all accounts.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Direction2 Direction `json:"direction2,omitempty"`
	Entries    []Entry   `json:"entries"`
	Targets    []float64 `json:"targets"`
	StopLoss   float64   `json:"stop_loss"`
	GroupID    string    `json:"group_id,omitempty"`
}

// Normalize uppercases symbolic fields, defaults entry kinds to MARKET and
// assigns a group id when the parser did not provide one.
func (s *Signal) Normalize() {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Direction = Direction(strings.ToUpper(strings.TrimSpace(string(s.Direction))))
	s.Direction2 = Direction(strings.ToUpper(strings.TrimSpace(string(s.Direction2))))
	for i := range s.Entries {
		kind := EntryKind(strings.ToUpper(strings.TrimSpace(string(s.Entries[i].Kind))))
		if kind == "" {
			kind = EntryMarket
		}
		s.Entries[i].Kind = kind
	}
	if strings.TrimSpace(s.GroupID) == "" {
		s.GroupID = uuid.NewString()
	}
}

// Validate checks the structural invariants of a normalized signal.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: symbol is required")
	}
	if s.Direction != Buy && s.Direction != Sell {
		return fmt.Errorf("signal: invalid direction %q", s.Direction)
	}
	if s.Direction2 != "" && s.Direction2 != Buy && s.Direction2 != Sell {
		return fmt.Errorf("signal: invalid secondary direction %q", s.Direction2)
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("signal: at least one entry point is required")
	}
	for i, e := range s.Entries {
		switch e.Kind {
		case EntryMarket:
		case EntryLimit, EntryStop:
			if e.Price <= 0 {
				return fmt.Errorf("signal: entry %d (%s) requires a price", i+1, e.Kind)
			}
		default:
			return fmt.Errorf("signal: entry %d has invalid kind %q", i+1, e.Kind)
		}
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("signal: stop loss is required")
	}
	for i, tp := range s.Targets {
		if tp <= 0 {
			return fmt.Errorf("signal: target %d must be positive", i+1)
		}
	}
	return nil
}

// TargetCount returns the number of take-profit levels, treating a signal
// without targets as having a single one for volume splitting.
func (s Signal) TargetCount() int {
	if len(s.Targets) == 0 {
		return 1
	}
	return len(s.Targets)
}

// FinalTarget returns the last take-profit level, or 0 when none is set. It
// is stamped on submitted orders so fully managed positions still carry a
// venue-side take profit.
func (s Signal) FinalTarget() float64 {
	if len(s.Targets) == 0 {
		return 0
	}
	return s.Targets[len(s.Targets)-1]
}
