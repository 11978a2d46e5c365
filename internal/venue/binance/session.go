// Package binance adapts USDT-margined futures to the venue.Session
// contract. Binance has no position tickets, so a synthetic ticket is derived
// from symbol and side; it is stable across polls, which is all the
// reconciliation loop needs. Stop-loss and take-profit live as separate
// close-position orders rather than position attributes.
package binance

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"tradecopy/internal/logger"
	"tradecopy/internal/venue"
)

// Config describes one account connection.
type Config struct {
	Login       int64
	APIKey      string
	APISecret   string
	RESTBaseURL string
	HTTPTimeout time.Duration
}

// Session implements venue.Session over the futures REST API.
type Session struct {
	cfg    Config
	client *futures.Client

	mu          sync.Mutex
	infoCache   map[string]venue.SymbolInfo
	orderSymbol map[int64]string // orderID -> symbol, needed for cancels
	infoLoaded  time.Time
}

func New(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("binance: api key and secret are required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return &Session{
		cfg:         cfg,
		client:      client,
		infoCache:   make(map[string]venue.SymbolInfo),
		orderSymbol: make(map[int64]string),
	}, nil
}

func (s *Session) AccountInfo(ctx context.Context) (venue.AccountInfo, error) {
	acct, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return venue.AccountInfo{}, fmt.Errorf("binance account: %w", err)
	}
	return venue.AccountInfo{
		Login:    s.cfg.Login,
		Balance:  parseFloat(acct.TotalWalletBalance),
		Currency: "USDT",
	}, nil
}

// SymbolInfo serves from a cached exchange-info snapshot, refreshed hourly.
// One quote tick on one contract unit is worth the tick size in USDT, so
// tick value equals tick size for this venue.
func (s *Session) SymbolInfo(ctx context.Context, symbol string) (venue.SymbolInfo, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.Lock()
	info, ok := s.infoCache[symbol]
	fresh := time.Since(s.infoLoaded) < time.Hour
	s.mu.Unlock()
	if ok && fresh {
		return info, nil
	}
	if err := s.refreshExchangeInfo(ctx); err != nil {
		if ok {
			return info, nil
		}
		return venue.SymbolInfo{}, err
	}
	s.mu.Lock()
	info, ok = s.infoCache[symbol]
	s.mu.Unlock()
	if !ok {
		return venue.SymbolInfo{}, fmt.Errorf("binance: unknown symbol %s", symbol)
	}
	return info, nil
}

func (s *Session) refreshExchangeInfo(ctx context.Context) error {
	res, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance exchange info: %w", err)
	}
	cache := make(map[string]venue.SymbolInfo, len(res.Symbols))
	for _, sym := range res.Symbols {
		info := venue.SymbolInfo{Symbol: sym.Symbol, Digits: sym.PricePrecision}
		for _, f := range sym.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				info.TickSize = parseFloat(stringField(f, "tickSize"))
			case "LOT_SIZE":
				info.VolumeMin = parseFloat(stringField(f, "minQty"))
				info.VolumeStep = parseFloat(stringField(f, "stepSize"))
				info.VolumeMax = parseFloat(stringField(f, "maxQty"))
			}
		}
		info.TickValue = info.TickSize
		cache[sym.Symbol] = info
	}
	s.mu.Lock()
	s.infoCache = cache
	s.infoLoaded = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) Quote(ctx context.Context, symbol string) (venue.Tick, error) {
	books, err := s.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return venue.Tick{}, fmt.Errorf("binance book ticker %s: %w", symbol, err)
	}
	if len(books) == 0 {
		return venue.Tick{}, fmt.Errorf("binance: no book for %s", symbol)
	}
	return venue.Tick{
		Symbol: symbol,
		Bid:    parseFloat(books[0].BidPrice),
		Ask:    parseFloat(books[0].AskPrice),
	}, nil
}

func (s *Session) Positions(ctx context.Context) ([]venue.Position, error) {
	risks, err := s.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	var out []venue.Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		orderType := venue.OrderBuy
		volume := amt
		if amt < 0 {
			orderType = venue.OrderSell
			volume = -amt
		}
		out = append(out, venue.Position{
			Ticket:    positionTicket(r.Symbol, orderType),
			Symbol:    r.Symbol,
			Type:      orderType,
			Volume:    volume,
			PriceOpen: parseFloat(r.EntryPrice),
			Magic:     s.cfg.Login,
		})
	}
	return out, nil
}

func (s *Session) PendingOrders(ctx context.Context) ([]venue.PendingOrder, error) {
	orders, err := s.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance open orders: %w", err)
	}
	var out []venue.PendingOrder
	for _, o := range orders {
		// Protective close-position orders belong to the position, not to
		// the entry ladder.
		if o.ClosePosition || o.ReduceOnly {
			continue
		}
		s.mu.Lock()
		s.orderSymbol[o.OrderID] = o.Symbol
		s.mu.Unlock()
		out = append(out, venue.PendingOrder{
			Ticket:  o.OrderID,
			Symbol:  o.Symbol,
			Type:    pendingType(o),
			Volume:  parseFloat(o.OrigQuantity),
			Price:   parseFloat(o.Price),
			Magic:   s.cfg.Login,
			Comment: o.ClientOrderID,
		})
	}
	return out, nil
}

// Submit places one order. The correlation tag rides in the client order id.
// Market submissions return the synthetic position ticket so the resulting
// position matches what registration recorded; pending submissions return the
// real order id.
func (s *Session) Submit(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	info, err := s.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return venue.OrderResult{}, err
	}

	side := futures.SideTypeBuy
	positionType := venue.OrderBuy
	if !req.Type.IsBuy() {
		side = futures.SideTypeSell
		positionType = venue.OrderSell
	}
	svc := s.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(formatQty(req.Volume, info)).
		NewClientOrderID(clientOrderID(req.Comment))

	switch req.Type {
	case venue.OrderBuy, venue.OrderSell:
		svc = svc.Type(futures.OrderTypeMarket)
	case venue.OrderBuyLimit, venue.OrderSellLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatPrice(req.Price, info))
	case venue.OrderBuyStop, venue.OrderSellStop:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(req.Price, info))
	default:
		return venue.OrderResult{}, fmt.Errorf("binance: unsupported order type %s", req.Type)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return venue.OrderResult{}, &venue.Error{Op: "submit", Comment: err.Error()}
	}
	s.mu.Lock()
	s.orderSymbol[res.OrderID] = req.Symbol
	s.mu.Unlock()

	ticket := res.OrderID
	if !req.Type.Pending() {
		ticket = positionTicket(req.Symbol, positionType)
		s.placeProtection(ctx, req, info, positionType)
	}
	return venue.OrderResult{Ticket: ticket, Comment: res.ClientOrderID}, nil
}

// placeProtection attaches stop-loss and take-profit close orders to a fresh
// market position. Failures are logged, not fatal: the reconciliation loop
// still manages the position from local state.
func (s *Session) placeProtection(ctx context.Context, req venue.OrderRequest, info venue.SymbolInfo, positionType venue.OrderType) {
	closeSide := futures.SideTypeSell
	if positionType == venue.OrderSell {
		closeSide = futures.SideTypeBuy
	}
	if req.StopLoss > 0 {
		_, err := s.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(req.StopLoss, info)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			logger.Warnf("binance: placing stop-loss for %s failed: %v", req.Symbol, err)
		}
	}
	if req.TakeProfit > 0 {
		_, err := s.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(req.TakeProfit, info)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			logger.Warnf("binance: placing take-profit for %s failed: %v", req.Symbol, err)
		}
	}
}

// ModifySLTP replaces the protective close orders of the position behind the
// synthetic ticket.
func (s *Session) ModifySLTP(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	pos, err := s.findPosition(ctx, ticket)
	if err != nil {
		return err
	}
	info, err := s.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	if err := s.cancelProtection(ctx, pos.Symbol); err != nil {
		return err
	}
	closeSide := futures.SideTypeSell
	if pos.Type == venue.OrderSell {
		closeSide = futures.SideTypeBuy
	}
	if stopLoss > 0 {
		_, err := s.client.NewCreateOrderService().
			Symbol(pos.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(stopLoss, info)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return &venue.Error{Op: "modify_sl", Comment: err.Error()}
		}
	}
	if takeProfit > 0 {
		_, err := s.client.NewCreateOrderService().
			Symbol(pos.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(takeProfit, info)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return &venue.Error{Op: "modify_tp", Comment: err.Error()}
		}
	}
	return nil
}

func (s *Session) cancelProtection(ctx context.Context, symbol string) error {
	orders, err := s.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance open orders %s: %w", symbol, err)
	}
	for _, o := range orders {
		if !o.ClosePosition {
			continue
		}
		_, err := s.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx)
		if err != nil {
			return &venue.Error{Op: "cancel_protection", Comment: err.Error()}
		}
	}
	return nil
}

func (s *Session) CancelOrder(ctx context.Context, ticket int64) error {
	s.mu.Lock()
	symbol, ok := s.orderSymbol[ticket]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("binance: unknown order %d, symbol not tracked", ticket)
	}
	_, err := s.client.NewCancelOrderService().Symbol(symbol).OrderID(ticket).Do(ctx)
	if err != nil {
		return &venue.Error{Op: "cancel", Comment: err.Error()}
	}
	s.mu.Lock()
	delete(s.orderSymbol, ticket)
	s.mu.Unlock()
	return nil
}

// ClosePartial reduces the position behind the synthetic ticket by volume
// with a reduce-only market order.
func (s *Session) ClosePartial(ctx context.Context, ticket int64, volume float64) error {
	pos, err := s.findPosition(ctx, ticket)
	if err != nil {
		return err
	}
	info, err := s.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	closeSide := futures.SideTypeSell
	if pos.Type == venue.OrderSell {
		closeSide = futures.SideTypeBuy
	}
	_, err = s.client.NewCreateOrderService().
		Symbol(pos.Symbol).
		Side(closeSide).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(volume, info)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return &venue.Error{Op: "close", Comment: err.Error()}
	}
	return nil
}

func (s *Session) Close() error {
	return nil
}

func (s *Session) findPosition(ctx context.Context, ticket int64) (venue.Position, error) {
	positions, err := s.Positions(ctx)
	if err != nil {
		return venue.Position{}, err
	}
	for _, pos := range positions {
		if pos.Ticket == ticket {
			return pos, nil
		}
	}
	return venue.Position{}, fmt.Errorf("binance: no open position for ticket %d", ticket)
}

var _ venue.Session = (*Session)(nil)

// positionTicket derives the stable synthetic ticket for a symbol/side
// position. The high bit stays clear so tickets remain positive.
func positionTicket(symbol string, orderType venue.OrderType) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	h.Write([]byte{'|', byte(orderType)})
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func pendingType(o *futures.Order) venue.OrderType {
	buy := o.Side == futures.SideTypeBuy
	switch o.Type {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		if buy {
			return venue.OrderBuyStop
		}
		return venue.OrderSellStop
	default:
		if buy {
			return venue.OrderBuyLimit
		}
		return venue.OrderSellLimit
	}
}

// clientOrderID builds a unique client order id within Binance's 36-char
// limit. The correlation comment stays as prefix; the random suffix keeps
// multi-entry ladders of one group from colliding on the same id.
func clientOrderID(comment string) string {
	prefix := strings.NewReplacer(":", "-", " ", "").Replace(comment)
	suffix := uuid.NewString()[:8]
	if len(prefix) > 36-len(suffix)-1 {
		prefix = prefix[:36-len(suffix)-1]
	}
	return prefix + "-" + suffix
}

func formatQty(v float64, info venue.SymbolInfo) string {
	prec := stepPrecision(info.VolumeStep)
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatPrice(v float64, info venue.SymbolInfo) string {
	return strconv.FormatFloat(v, 'f', info.Digits, 64)
}

// stepPrecision counts the decimal places of a lot step like 0.001.
func stepPrecision(step float64) int {
	if step <= 0 {
		return 3
	}
	prec := 0
	for step < 1 && prec < 8 {
		step *= 10
		prec++
	}
	return prec
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
