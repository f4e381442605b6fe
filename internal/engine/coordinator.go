// Package engine coordinates one execution cycle: fetch, decide, act.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bipulsin/trademanthan-sub001/internal/broker"
	"github.com/bipulsin/trademanthan-sub001/internal/condition"
	"github.com/bipulsin/trademanthan-sub001/internal/indicator"
	"github.com/bipulsin/trademanthan-sub001/internal/journal"
	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/metrics"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
	"github.com/bipulsin/trademanthan-sub001/internal/position"
	"github.com/bipulsin/trademanthan-sub001/internal/risk"
)

// Skip reason codes logged and counted when a cycle takes no action.
const (
	reasonNoCandles         = "no_candles"
	reasonInsufficientData  = "insufficient_data"
	reasonNoFlip            = "no_flip"
	reasonNoContract        = "no_contract"
	reasonPremiumOutOfBand  = "premium_out_of_band"
	reasonInsufficientFunds = "insufficient_margin"
	reasonCapitalFloor      = "capital_floor"
	reasonOrderFailure      = "order_failure"
	reasonOrderUnfilled     = "order_unfilled"
	reasonPositionExists    = "position_exists"
)

// Config tunes the coordinator's fetch and resilience machinery.
type Config struct {
	CandleSymbol     string
	Interval         string
	CandleWindow     int
	FetchTimeout     time.Duration
	FetchWorkers     int
	StaleOrderCycles int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	BalanceTTL       time.Duration
	// Side is the position taken on entry; short sells premium.
	Side position.Side
}

// Coordinator runs one cycle at a time. It is owned by a single scheduler
// loop; only the fan-out fetch inside a cycle is concurrent.
type Coordinator struct {
	cfg       Config
	client    broker.Client
	retry     broker.RetryPolicy
	trend     *indicator.Engine
	evaluator *condition.Evaluator
	resolver  *options.Resolver
	limits    risk.Limits
	machine   *position.Machine
	journal   journal.Recorder
	log       zerolog.Logger

	mu           sync.Mutex
	breakers     map[string]*broker.Breaker
	orderAges    map[string]int
	lastSignal   *market.Signal
	balanceCache *broker.ValueCache
}

// New wires a coordinator from its collaborators.
func New(cfg Config, client broker.Client, trend *indicator.Engine, evaluator *condition.Evaluator,
	resolver *options.Resolver, limits risk.Limits, machine *position.Machine,
	recorder journal.Recorder, retry broker.RetryPolicy, log zerolog.Logger) *Coordinator {

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 3
	}
	if cfg.StaleOrderCycles <= 0 {
		cfg.StaleOrderCycles = 3
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 4
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 2 * time.Minute
	}
	if cfg.BalanceTTL <= 0 {
		cfg.BalanceTTL = 30 * time.Second
	}
	if cfg.Side == "" {
		cfg.Side = position.Short
	}
	if recorder == nil {
		recorder = journal.Nop{}
	}
	return &Coordinator{
		cfg:          cfg,
		client:       client,
		retry:        retry,
		trend:        trend,
		evaluator:    evaluator,
		resolver:     resolver,
		limits:       limits,
		machine:      machine,
		journal:      recorder,
		log:          log,
		breakers:     make(map[string]*broker.Breaker),
		orderAges:    make(map[string]int),
		balanceCache: broker.NewValueCache(cfg.BalanceTTL),
	}
}

// Machine exposes the position state machine for status reads.
func (c *Coordinator) Machine() *position.Machine { return c.machine }

// LastSignal returns the most recent cycle's signal, if any.
func (c *Coordinator) LastSignal() (market.Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSignal == nil {
		return market.Signal{}, false
	}
	return *c.lastSignal, true
}

// fetchResult carries the fan-out outcome. Position and order fetch failures
// degrade to empty; a candle failure aborts the cycle.
type fetchResult struct {
	candles    []market.Candle
	openOrders []broker.Order
	positions  []broker.NetPosition
	candleErr  error
}

// RunCycle executes one full cycle. It returns an error only for fatal
// conditions (broker auth); every cycle-local failure is logged, counted,
// and swallowed so the scheduler loop survives.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	metrics.CyclesTotal.Inc()

	state := c.fetch(ctx)
	if state.candleErr != nil {
		if broker.Auth(state.candleErr) {
			return fmt.Errorf("fetch candles: %w", state.candleErr)
		}
		c.skip(reasonNoCandles, state.candleErr)
		return nil
	}

	c.cleanupStaleOrders(ctx, state.openOrders)
	c.reconcile(state.positions)

	candles, err := market.Normalize(state.candles)
	if err != nil {
		c.skip(reasonNoCandles, err)
		return nil
	}

	sig, ind := c.trend.Evaluate(candles)
	metrics.UnderlyingPrice.Set(sig.UnderlyingPrice)
	metrics.TrendValue.Set(sig.TrendValue)
	c.snapshot(sig)

	c.mu.Lock()
	prev := c.lastSignal
	c.lastSignal = &sig
	c.mu.Unlock()

	if sig.Hold() {
		c.skip(reasonInsufficientData, nil)
		return nil
	}
	metrics.SignalsTotal.WithLabelValues(sig.Direction.String()).Inc()

	// A flip can come from the recomputed window or from comparison against
	// the previous cycle's signal; either counts.
	flip := sig.TrendChange
	if !flip && prev != nil && prev.Direction != market.Undefined {
		flip = prev.Direction != sig.Direction
	}

	row := c.trend.Row(sig, ind)
	if flip {
		row["trend_change"] = 1
	} else {
		row["trend_change"] = 0
	}
	outcome := c.evaluator.Evaluate(row)

	// Exit has priority; a full reversal closes now and may re-enter on a
	// later cycle, never in the same one.
	if _, held := c.machine.Position(); held {
		return c.manageOpenPosition(ctx, sig, outcome)
	}
	return c.tryEnter(ctx, sig, outcome, flip)
}

// fetch fans out the broker reads across a bounded worker pool with per-call
// timeouts and joins before returning.
func (c *Coordinator) fetch(ctx context.Context) fetchResult {
	var res fetchResult
	var mu sync.Mutex

	tasks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"candles", func(ctx context.Context) error {
			candles, err := c.client.GetCandles(ctx, c.cfg.CandleSymbol, c.cfg.Interval, c.cfg.CandleWindow)
			if err != nil {
				return err
			}
			mu.Lock()
			res.candles = candles
			mu.Unlock()
			return nil
		}},
		{"orders", func(ctx context.Context) error {
			orders, err := c.client.GetOpenOrders(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			res.openOrders = orders
			mu.Unlock()
			return nil
		}},
		{"positions", func(ctx context.Context) error {
			positions, err := c.client.GetMarginedPositions(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			res.positions = positions
			mu.Unlock()
			return nil
		}},
	}

	sem := make(chan struct{}, c.cfg.FetchWorkers)
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			defer func() { <-sem }()
			err := c.call(ctx, name, run)
			if err == nil {
				return
			}
			if name == "candles" {
				mu.Lock()
				res.candleErr = err
				mu.Unlock()
				return
			}
			// Degrade to empty: the cycle proceeds on partial state.
			c.log.Warn().Err(err).Str("call", name).Msg("fetch degraded to empty")
		}(task.name, task.run)
	}
	wg.Wait()
	return res
}

// call wraps one broker call with the per-call timeout, the retry policy,
// and the per-call-type circuit breaker.
func (c *Coordinator) call(ctx context.Context, name string, fn func(context.Context) error) error {
	b := c.breaker(name)
	err := b.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
		return c.retry.Do(callCtx, func() error { return fn(callCtx) })
	})
	if err != nil && !errors.Is(err, broker.ErrBreakerOpen) {
		metrics.BrokerErrorsTotal.WithLabelValues(name).Inc()
	}
	if b.Open() {
		metrics.BreakerOpen.WithLabelValues(name).Set(1)
	} else {
		metrics.BreakerOpen.WithLabelValues(name).Set(0)
	}
	return err
}

func (c *Coordinator) breaker(name string) *broker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[name]
	if !ok {
		b = broker.NewBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerCooldown)
		c.breakers[name] = b
	}
	return b
}

// cleanupStaleOrders cancels orders seen open for more than the configured
// number of consecutive cycles. Independent of the signal path.
func (c *Coordinator) cleanupStaleOrders(ctx context.Context, open []broker.Order) {
	c.mu.Lock()
	seen := make(map[string]bool, len(open))
	var stale []broker.Order
	for _, o := range open {
		seen[o.ID] = true
		c.orderAges[o.ID]++
		if c.orderAges[o.ID] > c.cfg.StaleOrderCycles {
			stale = append(stale, o)
		}
	}
	for id := range c.orderAges {
		if !seen[id] {
			delete(c.orderAges, id)
		}
	}
	c.mu.Unlock()

	for _, o := range stale {
		err := c.call(ctx, "cancel", func(ctx context.Context) error {
			return c.client.CancelOrder(ctx, o.ID)
		})
		if err != nil {
			c.log.Warn().Err(err).Str("order_id", o.ID).Msg("stale order cancel failed")
			continue
		}
		metrics.OrdersCancelledTotal.Inc()
		c.log.Info().Str("order_id", o.ID).Str("symbol", o.Symbol).Msg("cancelled stale order")
		c.mu.Lock()
		delete(c.orderAges, o.ID)
		c.mu.Unlock()
	}
}

// reconcile compares the broker's net positions against the local state
// machine and logs any drift. The machine remains the source of truth for
// lifecycle decisions; drift means a manual intervention or a missed fill
// and wants an operator's eyes, not an automated guess.
func (c *Coordinator) reconcile(remote []broker.NetPosition) {
	pos, held := c.machine.Position()
	switch {
	case held:
		for _, r := range remote {
			if r.Symbol == pos.Contract.Symbol {
				return
			}
		}
		c.log.Warn().
			Str("contract", pos.Contract.Symbol).
			Msg("local position not reported by broker")
	case len(remote) > 0:
		for _, r := range remote {
			c.log.Warn().
				Str("symbol", r.Symbol).
				Int("qty", r.Qty).
				Msg("broker reports position unknown to this process")
		}
	}
}

// manageOpenPosition evaluates the exit conditions for the held position.
func (c *Coordinator) manageOpenPosition(ctx context.Context, sig market.Signal, outcome condition.Outcome) error {
	pos, ok := c.machine.Position()
	if !ok {
		return nil
	}

	exit := false
	note := ""

	// The flip flag alone cannot drive the exit: a recompute over an
	// unchanged window reports the entry bar's flip again. Reversal means
	// the current trend now calls for the opposite contract type.
	reversed := sig.Direction != market.Undefined && c.contractType(sig.Direction) != pos.Contract.Type
	if reversed || outcome.Exit {
		exit = true
		note = "trend reversal"
	}

	if !exit {
		var premium float64
		err := c.call(ctx, "premium", func(ctx context.Context) error {
			var err error
			premium, err = c.client.GetOptionPremium(ctx, pos.Contract.Symbol)
			return err
		})
		if err != nil {
			if broker.Auth(err) {
				return fmt.Errorf("fetch premium: %w", err)
			}
			// Without a mark we cannot judge the stop; hold and retry next cycle.
			c.log.Warn().Err(err).Msg("premium unavailable, stop-loss check deferred")
		} else if loss := c.machine.LossFraction(premium); c.limits.StopLossHit(loss) {
			exit = true
			note = fmt.Sprintf("stop loss: %.1f%% of entry premium", loss*100)
		}
	}

	if !exit {
		balance, err := c.balance(ctx)
		if err == nil && !c.limits.Sustainable(balance) {
			exit = true
			note = "capital below floor"
		} else if err != nil && broker.Auth(err) {
			return fmt.Errorf("fetch balance: %w", err)
		}
	}

	if !exit {
		return nil
	}
	return c.exitPosition(ctx, sig, pos, note)
}

func (c *Coordinator) exitPosition(ctx context.Context, sig market.Signal, pos position.Position, note string) error {
	if err := c.machine.BeginExit(); err != nil {
		c.log.Warn().Err(err).Msg("exit requested from unexpected state")
		return nil
	}

	side := broker.Buy
	if pos.Side == position.Long {
		side = broker.Sell
	}
	var ack broker.OrderAck
	err := c.call(ctx, "place", func(ctx context.Context) error {
		var err error
		ack, err = c.client.PlaceOrder(ctx, broker.OrderRequest{
			Symbol: pos.Contract.Symbol,
			Side:   side,
			Qty:    pos.Qty,
		})
		return err
	})
	if err != nil {
		c.machine.AbortExit()
		if broker.Auth(err) {
			return fmt.Errorf("exit order: %w", err)
		}
		c.skip(reasonOrderFailure, err)
		return nil
	}
	if ack.Status != broker.StatusFilled {
		// An acked-but-unfilled order is not an exit; the position stays
		// open and the next cycle retries while stale cleanup watches the
		// resting order.
		c.machine.AbortExit()
		c.log.Warn().
			Str("order_id", ack.OrderID).
			Str("status", string(ack.Status)).
			Msg("exit order acked without a fill")
		c.skip(reasonOrderUnfilled, nil)
		return nil
	}

	pnl, err := c.machine.ConfirmExit(ack.FillPrice)
	if err != nil {
		c.log.Error().Err(err).Msg("exit fill could not be applied")
		return nil
	}
	metrics.OrdersTotal.WithLabelValues(pos.Contract.Symbol, string(side)).Inc()
	c.journal.RecordTrade(journal.TradeRecord{
		Ts:       sig.Ts,
		Signal:   sig.Direction.String(),
		Contract: pos.Contract.Symbol,
		Strike:   pos.Contract.Strike,
		Premium:  ack.FillPrice,
		Qty:      pos.Qty,
		Side:     string(side),
		OrderID:  ack.OrderID,
		Status:   string(ack.Status),
		PnL:      pnl,
		Notes:    note,
	})
	c.log.Info().
		Str("contract", pos.Contract.Symbol).
		Float64("pnl", pnl).
		Str("note", note).
		Msg("position closed")
	return nil
}

// tryEnter opens a new position when the trend flipped and every gate passes.
func (c *Coordinator) tryEnter(ctx context.Context, sig market.Signal, outcome condition.Outcome, flip bool) error {
	if !flip || !outcome.Entry {
		c.skip(reasonNoFlip, nil)
		return nil
	}
	if outcome.Exit {
		// Full reversal detected with nothing held: the close already
		// happened (or was never opened); re-entry waits a cycle.
		c.skip(reasonNoFlip, nil)
		return nil
	}

	balance, err := c.balance(ctx)
	if err != nil {
		if broker.Auth(err) {
			return fmt.Errorf("fetch balance: %w", err)
		}
		c.skip(reasonInsufficientFunds, err)
		return nil
	}
	if !c.limits.Sustainable(balance) {
		c.skip(reasonCapitalFloor, nil)
		return nil
	}

	var catalog []options.Contract
	err = c.call(ctx, "products", func(ctx context.Context) error {
		var err error
		catalog, err = c.client.GetAllProducts(ctx)
		return err
	})
	if err != nil {
		if broker.Auth(err) {
			return fmt.Errorf("fetch products: %w", err)
		}
		c.skip(reasonNoContract, err)
		return nil
	}

	contract, err := c.resolver.Resolve(catalog, sig.TrendValue, c.contractType(sig.Direction))
	if err != nil {
		switch {
		case errors.Is(err, options.ErrPremiumOutOfBand):
			c.skip(reasonPremiumOutOfBand, err)
		default:
			c.skip(reasonNoContract, err)
		}
		return nil
	}

	qty := c.limits.SizeFor(balance, contract.Premium)
	if qty < 1 {
		c.skip(reasonInsufficientFunds, nil)
		return nil
	}

	if !c.machine.BeginEntry() {
		c.skip(reasonPositionExists, nil)
		return nil
	}

	side := broker.Sell
	if c.cfg.Side == position.Long {
		side = broker.Buy
	}
	var ack broker.OrderAck
	err = c.call(ctx, "place", func(ctx context.Context) error {
		var err error
		ack, err = c.client.PlaceOrder(ctx, broker.OrderRequest{
			Symbol: contract.Symbol,
			Side:   side,
			Qty:    qty,
		})
		return err
	})
	if err != nil {
		c.machine.AbortEntry()
		if broker.Auth(err) {
			return fmt.Errorf("entry order: %w", err)
		}
		c.skip(reasonOrderFailure, err)
		return nil
	}
	if ack.Status != broker.StatusFilled {
		// Only a fill creates a Position; an order resting at the venue
		// reverts the transition and is cancelled by stale cleanup if it
		// never fills.
		c.machine.AbortEntry()
		c.log.Warn().
			Str("order_id", ack.OrderID).
			Str("status", string(ack.Status)).
			Msg("entry order acked without a fill")
		c.skip(reasonOrderUnfilled, nil)
		return nil
	}

	if err := c.machine.ConfirmEntry(contract, c.cfg.Side, qty, ack.FillPrice, c.limits.MaxLossFraction, sig.Ts); err != nil {
		c.log.Error().Err(err).Msg("entry fill could not be applied")
		return nil
	}
	metrics.OrdersTotal.WithLabelValues(contract.Symbol, string(side)).Inc()
	c.journal.RecordTrade(journal.TradeRecord{
		Ts:       sig.Ts,
		Signal:   sig.Direction.String(),
		Contract: contract.Symbol,
		Strike:   contract.Strike,
		Premium:  ack.FillPrice,
		Qty:      qty,
		Side:     string(side),
		OrderID:  ack.OrderID,
		Status:   string(ack.Status),
	})
	c.log.Info().
		Str("contract", contract.Symbol).
		Float64("strike", contract.Strike).
		Float64("premium", ack.FillPrice).
		Int("qty", qty).
		Str("side", string(side)).
		Msg("position opened")
	return nil
}

// contractType picks the option type for the trend direction: an uptrend
// writes puts below the trend line, a downtrend writes calls above it. A
// long-side configuration buys with the trend instead.
func (c *Coordinator) contractType(dir market.Direction) options.ContractType {
	if c.cfg.Side == position.Long {
		if dir == market.Up {
			return options.Call
		}
		return options.Put
	}
	if dir == market.Up {
		return options.Put
	}
	return options.Call
}

func (c *Coordinator) balance(ctx context.Context) (float64, error) {
	return c.balanceCache.Get(ctx, "balance", func(ctx context.Context) (float64, error) {
		var balance float64
		err := c.call(ctx, "balance", func(ctx context.Context) error {
			var err error
			balance, err = c.client.GetBalance(ctx)
			return err
		})
		return balance, err
	})
}

func (c *Coordinator) snapshot(sig market.Signal) {
	state := "HOLD"
	if !sig.Hold() {
		state = sig.Direction.String()
		if sig.TrendChange {
			state = "FLIP_" + state
		}
	}
	c.journal.RecordSnapshot(journal.Snapshot{
		Ts:              sig.Ts,
		UnderlyingPrice: sig.UnderlyingPrice,
		TrendValue:      sig.TrendValue,
		Direction:       sig.Direction.String(),
		Signal:          state,
	})
}

func (c *Coordinator) skip(reason string, err error) {
	metrics.CycleSkipsTotal.WithLabelValues(reason).Inc()
	evt := c.log.Info()
	if err != nil {
		evt = c.log.Warn().Err(err)
	}
	evt.Str("reason", reason).Msg("cycle took no action")
}
