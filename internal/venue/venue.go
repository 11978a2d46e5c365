// Package venue defines a common abstraction for the external brokerage
// terminal. This allows the system to work with different execution backends
// (Binance futures, paper trading) without changing the core copy logic.
package venue

import (
	"context"
	"fmt"
)

// OrderType enumerates the order flavors the copier submits.
type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderBuyLimit
	OrderSellLimit
	OrderBuyStop
	OrderSellStop
)

func (t OrderType) String() string {
	switch t {
	case OrderBuy:
		return "buy"
	case OrderSell:
		return "sell"
	case OrderBuyLimit:
		return "buy_limit"
	case OrderSellLimit:
		return "sell_limit"
	case OrderBuyStop:
		return "buy_stop"
	case OrderSellStop:
		return "sell_stop"
	default:
		return fmt.Sprintf("order_type(%d)", int(t))
	}
}

// IsBuy reports whether the order increases long exposure.
func (t OrderType) IsBuy() bool {
	switch t {
	case OrderBuy, OrderBuyLimit, OrderBuyStop:
		return true
	default:
		return false
	}
}

// Pending reports whether the order rests on the book instead of dealing
// immediately.
func (t OrderType) Pending() bool {
	return t != OrderBuy && t != OrderSell
}

// AccountInfo is the per-login account snapshot used for risk sizing.
type AccountInfo struct {
	Login    int64
	Balance  float64
	Currency string
}

// SymbolInfo carries the instrument metadata needed for sizing and rounding.
type SymbolInfo struct {
	Symbol     string
	TickValue  float64 // account-currency value of one tick for one lot
	TickSize   float64
	VolumeMin  float64
	VolumeStep float64
	VolumeMax  float64
	Digits     int // price decimal places
}

// Tick is the current top-of-book quote.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
}

// Position is an open position as reported by the venue.
type Position struct {
	Ticket     int64
	Symbol     string
	Type       OrderType // OrderBuy or OrderSell
	Volume     float64
	PriceOpen  float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64  // secondary correlation tag (account login)
	Comment    string // primary correlation tag ("GID:<group>")
}

// PendingOrder is a resting, unfilled order as reported by the venue.
type PendingOrder struct {
	Ticket  int64
	Symbol  string
	Type    OrderType
	Volume  float64
	Price   float64
	Magic   int64
	Comment string
}

// OrderRequest describes a submission. Price is only consulted for pending
// order types; market orders deal at the current quote.
type OrderRequest struct {
	Symbol     string
	Type       OrderType
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	Comment    string
}

// OrderResult reports the outcome of a mutating call.
type OrderResult struct {
	Ticket  int64
	Code    int
	Comment string
}

// Error is a venue-reported rejection, carrying the backend code/comment so
// call sites can log it without parsing backend-specific strings.
type Error struct {
	Op      string
	Code    int
	Comment string
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue %s failed: code=%d comment=%q", e.Op, e.Code, e.Comment)
}

// Session is one authenticated connection to the venue for one account. A
// Session is not safe for concurrent use; callers serialize access through
// the owning account lock.
type Session interface {
	AccountInfo(ctx context.Context) (AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Quote(ctx context.Context, symbol string) (Tick, error)
	Positions(ctx context.Context) ([]Position, error)
	PendingOrders(ctx context.Context) ([]PendingOrder, error)
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifySLTP(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error
	CancelOrder(ctx context.Context, ticket int64) error
	ClosePartial(ctx context.Context, ticket int64, volume float64) error
	Close() error
}
