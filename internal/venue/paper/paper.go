// Package paper provides an in-memory venue.Session. It backs the paper
// driver for dry runs and gives tests a deterministic venue: market orders
// fill instantly at the posted quote, pending orders rest until cancelled and
// partial closes shrink the position in place.
package paper

import (
	"context"
	"fmt"
	"sync"

	"tradecopy/internal/venue"
)

// Session is a single simulated account. Safe for concurrent use, though the
// copier serializes calls through the account lock anyway.
type Session struct {
	mu         sync.Mutex
	login      int64
	balance    float64
	symbols    map[string]venue.SymbolInfo
	ticks      map[string]venue.Tick
	positions  map[int64]*venue.Position
	orders     map[int64]*venue.PendingOrder
	nextTicket int64

	// Failure hooks let tests exercise venue-error paths. When set, the
	// matching call returns the error without touching state.
	SubmitErr error
	ModifyErr error
	CancelErr error
	CloseErr  error
}

func NewSession(login int64, balance float64) *Session {
	return &Session{
		login:      login,
		balance:    balance,
		symbols:    make(map[string]venue.SymbolInfo),
		ticks:      make(map[string]venue.Tick),
		positions:  make(map[int64]*venue.Position),
		orders:     make(map[int64]*venue.PendingOrder),
		nextTicket: 1000,
	}
}

// SetSymbol installs instrument metadata.
func (s *Session) SetSymbol(info venue.SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[info.Symbol] = info
}

// SetTick posts the current quote for a symbol.
func (s *Session) SetTick(symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[symbol] = venue.Tick{Symbol: symbol, Bid: bid, Ask: ask}
}

// OpenRaw inserts an open position directly, bypassing Submit. Used to model
// trades placed outside the copier (ghosts).
func (s *Session) OpenRaw(pos venue.Position) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.Ticket == 0 {
		s.nextTicket++
		pos.Ticket = s.nextTicket
	}
	cp := pos
	s.positions[cp.Ticket] = &cp
	return cp.Ticket
}

// Position returns a copy of an open position, if present.
func (s *Session) Position(ticket int64) (venue.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[ticket]
	if !ok {
		return venue.Position{}, false
	}
	return *pos, true
}

func (s *Session) AccountInfo(ctx context.Context) (venue.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return venue.AccountInfo{Login: s.login, Balance: s.balance, Currency: "USD"}, nil
}

func (s *Session) SymbolInfo(ctx context.Context, symbol string) (venue.SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.symbols[symbol]; ok {
		return info, nil
	}
	// Reasonable CFD-style metadata so dry runs work without per-symbol setup.
	return venue.SymbolInfo{
		Symbol:     symbol,
		TickValue:  1,
		TickSize:   0.01,
		VolumeMin:  0.01,
		VolumeStep: 0.01,
		VolumeMax:  100,
		Digits:     2,
	}, nil
}

func (s *Session) Quote(ctx context.Context, symbol string) (venue.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick, ok := s.ticks[symbol]
	if !ok {
		return venue.Tick{}, fmt.Errorf("paper: no quote for %s", symbol)
	}
	return tick, nil
}

func (s *Session) Positions(ctx context.Context) ([]venue.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]venue.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (s *Session) PendingOrders(ctx context.Context) ([]venue.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]venue.PendingOrder, 0, len(s.orders))
	for _, ord := range s.orders {
		out = append(out, *ord)
	}
	return out, nil
}

func (s *Session) Submit(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubmitErr != nil {
		return venue.OrderResult{Code: 1, Comment: s.SubmitErr.Error()}, s.SubmitErr
	}
	if req.Volume <= 0 {
		err := &venue.Error{Op: "submit", Code: 2, Comment: "invalid volume"}
		return venue.OrderResult{Code: 2, Comment: "invalid volume"}, err
	}
	s.nextTicket++
	ticket := s.nextTicket
	if req.Type.Pending() {
		s.orders[ticket] = &venue.PendingOrder{
			Ticket:  ticket,
			Symbol:  req.Symbol,
			Type:    req.Type,
			Volume:  req.Volume,
			Price:   req.Price,
			Magic:   req.Magic,
			Comment: req.Comment,
		}
		return venue.OrderResult{Ticket: ticket}, nil
	}
	tick, ok := s.ticks[req.Symbol]
	if !ok {
		err := &venue.Error{Op: "submit", Code: 3, Comment: "no quote"}
		return venue.OrderResult{Code: 3, Comment: "no quote"}, err
	}
	fill := tick.Ask
	side := venue.OrderBuy
	if !req.Type.IsBuy() {
		fill = tick.Bid
		side = venue.OrderSell
	}
	s.positions[ticket] = &venue.Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Type:       side,
		Volume:     req.Volume,
		PriceOpen:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Magic:      req.Magic,
		Comment:    req.Comment,
	}
	return venue.OrderResult{Ticket: ticket}, nil
}

func (s *Session) ModifySLTP(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ModifyErr != nil {
		return s.ModifyErr
	}
	pos, ok := s.positions[ticket]
	if !ok {
		return &venue.Error{Op: "modify", Code: 10, Comment: "position not found"}
	}
	pos.StopLoss = stopLoss
	if takeProfit > 0 {
		pos.TakeProfit = takeProfit
	}
	return nil
}

func (s *Session) CancelOrder(ctx context.Context, ticket int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CancelErr != nil {
		return s.CancelErr
	}
	if _, ok := s.orders[ticket]; !ok {
		return &venue.Error{Op: "cancel", Code: 11, Comment: "order not found"}
	}
	delete(s.orders, ticket)
	return nil
}

func (s *Session) ClosePartial(ctx context.Context, ticket int64, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseErr != nil {
		return s.CloseErr
	}
	pos, ok := s.positions[ticket]
	if !ok {
		return &venue.Error{Op: "close", Code: 12, Comment: "position not found"}
	}
	if volume <= 0 {
		return &venue.Error{Op: "close", Code: 13, Comment: "invalid volume"}
	}
	if volume >= pos.Volume-1e-9 {
		delete(s.positions, ticket)
		return nil
	}
	pos.Volume -= volume
	return nil
}

func (s *Session) Close() error { return nil }

var _ venue.Session = (*Session)(nil)
