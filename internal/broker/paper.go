package broker

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
)

const epsilon = 1e-9

type paperPos struct {
	Qty        int // negative for short
	EntryPrice float64
}

// Paper is an in-memory venue that fills orders instantly at the current
// mark. It backs cmd/replay and the engine tests; the interface is the same
// one the live REST client implements.
type Paper struct {
	mu        sync.Mutex
	cash      float64
	realized  float64
	candles   []market.Candle
	catalog   []options.Contract
	marks     map[string]float64
	openOrds  []Order
	positions map[string]*paperPos
	errs      map[string]error
	seq       int
}

// NewPaper builds a paper venue with the given starting cash.
func NewPaper(startingCash float64) *Paper {
	return &Paper{
		cash:      startingCash,
		marks:     make(map[string]float64),
		positions: make(map[string]*paperPos),
		errs:      make(map[string]error),
	}
}

// SeedCandles replaces the candle window returned by GetCandles.
func (p *Paper) SeedCandles(candles []market.Candle) {
	p.mu.Lock()
	p.candles = append([]market.Candle(nil), candles...)
	p.mu.Unlock()
}

// SeedCatalog replaces the option catalog and primes marks from premiums.
func (p *Paper) SeedCatalog(catalog []options.Contract) {
	p.mu.Lock()
	p.catalog = append([]options.Contract(nil), catalog...)
	for _, c := range catalog {
		p.marks[c.Symbol] = c.Premium
	}
	p.mu.Unlock()
}

// SetMark overrides the mark price used for fills and premium reads.
func (p *Paper) SetMark(symbol string, price float64) {
	p.mu.Lock()
	p.marks[symbol] = price
	p.mu.Unlock()
}

// FailWith makes the named call (e.g. "candles", "balance", "place") return
// err until cleared with a nil err.
func (p *Paper) FailWith(call string, err error) {
	p.mu.Lock()
	if err == nil {
		delete(p.errs, call)
	} else {
		p.errs[call] = err
	}
	p.mu.Unlock()
}

// AddOpenOrder injects a resting order, for stale-order cleanup tests.
func (p *Paper) AddOpenOrder(o Order) {
	p.mu.Lock()
	p.openOrds = append(p.openOrds, o)
	p.mu.Unlock()
}

// RealizedPnL returns accumulated closed-trade profit.
func (p *Paper) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized
}

func (p *Paper) failure(call string) error {
	return p.errs[call]
}

// GetCandles returns the seeded window, newest last.
func (p *Paper) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("candles"); err != nil {
		return nil, err
	}
	out := p.candles
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]market.Candle(nil), out...), nil
}

// GetBalance returns available cash.
func (p *Paper) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("balance"); err != nil {
		return 0, err
	}
	return p.cash, nil
}

// GetAllProducts returns the seeded catalog with live marks applied.
func (p *Paper) GetAllProducts(ctx context.Context) ([]options.Contract, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("products"); err != nil {
		return nil, err
	}
	out := make([]options.Contract, len(p.catalog))
	copy(out, p.catalog)
	for i := range out {
		if mark, ok := p.marks[out[i].Symbol]; ok {
			out[i].Premium = mark
		}
	}
	return out, nil
}

// GetOptionPremium returns the current mark for a contract.
func (p *Paper) GetOptionPremium(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("premium"); err != nil {
		return 0, err
	}
	mark, ok := p.marks[symbol]
	if !ok {
		return 0, errors.New("unknown symbol: " + symbol)
	}
	return mark, nil
}

// PlaceOrder fills immediately at the mark (or the limit price when given),
// mutating cash, positions, and realized pnl.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("place"); err != nil {
		return OrderAck{}, err
	}
	if req.Qty <= 0 {
		return OrderAck{}, errors.New("quantity must be positive")
	}

	price := req.Price
	if price <= 0 {
		mark, ok := p.marks[req.Symbol]
		if !ok {
			return OrderAck{}, errors.New("no mark for symbol: " + req.Symbol)
		}
		price = mark
	}
	notional := float64(req.Qty) * price

	state := p.positions[req.Symbol]
	if state == nil {
		state = &paperPos{}
		p.positions[req.Symbol] = state
	}

	switch req.Side {
	case Buy:
		if notional > p.cash+epsilon {
			return OrderAck{}, errors.New("insufficient cash for buy")
		}
		if state.Qty < 0 {
			closed := min(req.Qty, -state.Qty)
			p.realized += (state.EntryPrice - price) * float64(closed)
		}
		p.cash -= notional
		p.applyFill(state, req.Qty, price)
	case Sell:
		if state.Qty > 0 {
			closed := min(req.Qty, state.Qty)
			p.realized += (price - state.EntryPrice) * float64(closed)
		}
		p.cash += notional
		p.applyFill(state, -req.Qty, price)
	default:
		return OrderAck{}, errors.New("unknown order side")
	}

	if state.Qty == 0 {
		delete(p.positions, req.Symbol)
	}

	p.seq++
	return OrderAck{
		OrderID:   "paper-" + strconv.Itoa(p.seq),
		Status:    StatusFilled,
		FillPrice: price,
	}, nil
}

// applyFill merges a signed quantity into the position, rebasing the entry
// price when the fill extends (rather than reduces) the holding.
func (p *Paper) applyFill(state *paperPos, qty int, price float64) {
	prev := state.Qty
	state.Qty += qty
	switch {
	case state.Qty == 0:
		state.EntryPrice = 0
	case prev == 0 || (prev > 0) != (state.Qty > 0):
		state.EntryPrice = price
	case abs(state.Qty) > abs(prev):
		total := float64(abs(prev))*state.EntryPrice + float64(abs(qty))*price
		state.EntryPrice = total / float64(abs(state.Qty))
	}
}

// CancelOrder drops a resting order by ID.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("cancel"); err != nil {
		return err
	}
	for i, o := range p.openOrds {
		if o.ID == orderID {
			p.openOrds = append(p.openOrds[:i], p.openOrds[i+1:]...)
			return nil
		}
	}
	return errors.New("unknown order: " + orderID)
}

// GetOpenOrders lists injected resting orders.
func (p *Paper) GetOpenOrders(ctx context.Context) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("orders"); err != nil {
		return nil, err
	}
	return append([]Order(nil), p.openOrds...), nil
}

// GetPositions lists current paper positions.
func (p *Paper) GetPositions(ctx context.Context) ([]NetPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("positions"); err != nil {
		return nil, err
	}
	out := make([]NetPosition, 0, len(p.positions))
	for sym, st := range p.positions {
		out = append(out, NetPosition{Symbol: sym, Qty: st.Qty, EntryPrice: st.EntryPrice})
	}
	return out, nil
}

// GetMarginedPositions mirrors GetPositions; paper margin is not modeled.
func (p *Paper) GetMarginedPositions(ctx context.Context) ([]NetPosition, error) {
	return p.GetPositions(ctx)
}

var _ Client = (*Paper)(nil)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
