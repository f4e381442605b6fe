package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bipulsin/trademanthan-sub001/internal/broker"
	"github.com/bipulsin/trademanthan-sub001/internal/indicator"
	"github.com/bipulsin/trademanthan-sub001/internal/journal"
	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
	"github.com/bipulsin/trademanthan-sub001/internal/position"
	"github.com/bipulsin/trademanthan-sub001/internal/risk"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func bar(i int, close float64) market.Candle {
	base := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	return market.Candle{
		Ts:    base.Add(time.Duration(i) * 5 * time.Minute),
		Open:  close - 5,
		High:  close + 20,
		Low:   close - 20,
		Close: close,
	}
}

func risingSeries(n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, bar(i, 50000+float64(i)*40))
	}
	return out
}

// crashSeries rises then collapses on the last bar, flipping the trend down.
func crashSeries() []market.Candle {
	series := risingSeries(40)
	last := series[len(series)-1].Close
	return append(series, bar(len(series), last-2000))
}

type harness struct {
	coord    *Coordinator
	paper    *broker.Paper
	machine  *position.Machine
	ledger   *journal.Ledger
	resolver *options.Resolver
}

func newHarness(t *testing.T, cash float64, premiumMin, premiumMax float64) *harness {
	t.Helper()
	paper := broker.NewPaper(cash)
	return newHarnessWith(t, paper, paper, premiumMin, premiumMax)
}

func newHarnessWith(t *testing.T, client broker.Client, paper *broker.Paper, premiumMin, premiumMax float64) *harness {
	t.Helper()
	machine := position.NewMachine(zerolog.Nop())
	ledger := journal.NewLedger(32)
	resolver := options.NewResolver(100, premiumMin, premiumMax).
		WithClock(func() time.Time { return testNow })

	coord := New(
		Config{
			CandleSymbol:     "BTCUSD",
			Interval:         "5m",
			CandleWindow:     120,
			FetchTimeout:     2 * time.Second,
			FetchWorkers:     3,
			StaleOrderCycles: 2,
			BreakerThreshold: 3,
			BreakerCooldown:  time.Minute,
			Side:             position.Short,
		},
		client,
		indicator.New(10, 3),
		DefaultEvaluator(),
		resolver,
		risk.Limits{Allocation: 0.5, LotValue: 1, MaxLossFraction: 0.5, CapitalFloor: 100},
		machine,
		ledger,
		broker.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		zerolog.Nop(),
	)
	return &harness{coord: coord, paper: paper, machine: machine, ledger: ledger, resolver: resolver}
}

// seedCallsAround seeds call contracts bracketing the trend value the series
// produces, expiring tomorrow, and returns the symbol the resolver will pick.
func (h *harness) seedCallsAround(series []market.Candle, premium float64) string {
	sig, _ := indicator.New(10, 3).Evaluate(series)
	target := h.resolver.RoundTarget(sig.TrendValue)
	expiry := testNow.AddDate(0, 0, 1)
	mk := func(strike float64) options.Contract {
		return options.Contract{
			Symbol:  fmt.Sprintf("C-BTC-%.0f", strike),
			Strike:  strike,
			Expiry:  expiry,
			Type:    options.Call,
			Premium: premium,
		}
	}
	h.paper.SeedCatalog([]options.Contract{
		mk(target - 300),
		mk(target),
		mk(target + 400),
	})
	return fmt.Sprintf("C-BTC-%.0f", target)
}

func TestCycleOpensShortOnDownFlip(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	series := crashSeries()
	h.paper.SeedCandles(series)
	want := h.seedCallsAround(series, 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	pos, held := h.machine.Position()
	if !held {
		t.Fatalf("expected an open position")
	}
	if pos.Contract.Symbol != want {
		t.Fatalf("wrong contract: got %s want %s", pos.Contract.Symbol, want)
	}
	if pos.Side != position.Short {
		t.Fatalf("expected short side, got %s", pos.Side)
	}
	// floor(1000 * 0.5 / 12) contracts at the seeded premium.
	if pos.Qty != 41 {
		t.Fatalf("wrong quantity: got %d want 41", pos.Qty)
	}
	trades := h.ledger.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade record, got %d", len(trades))
	}
	if trades[0].Side != string(broker.Sell) {
		t.Fatalf("short entry must sell, got %s", trades[0].Side)
	}
	if snaps := h.ledger.Snapshots(); len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
}

func TestCycleHoldsPositionWhileTrendPersists(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	series := crashSeries()
	h.paper.SeedCandles(series)
	h.seedCallsAround(series, 12)

	for i := 0; i < 3; i++ {
		if err := h.coord.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}

	if _, held := h.machine.Position(); !held {
		t.Fatalf("position must survive cycles without a reversal")
	}
	if trades := h.ledger.Trades(); len(trades) != 1 {
		t.Fatalf("single-position rule violated: %d trades", len(trades))
	}
}

func TestCycleExitsOnReversal(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	series := crashSeries()
	h.paper.SeedCandles(series)
	contract := h.seedCallsAround(series, 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}
	if _, held := h.machine.Position(); !held {
		t.Fatalf("expected an open position after the flip")
	}

	// A rally bar flips the trend back up; premium decays in our favor.
	last := series[len(series)-1].Close
	series = append(series, bar(len(series), last+3000))
	h.paper.SeedCandles(series)
	h.paper.SetMark(contract, 8)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("exit cycle failed: %v", err)
	}

	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("expected flat after reversal, got %s", st)
	}
	trades := h.ledger.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected entry and exit trades, got %d", len(trades))
	}
	exit := trades[1]
	if exit.Side != string(broker.Buy) {
		t.Fatalf("short exit must buy back, got %s", exit.Side)
	}
	if want := (12.0 - 8.0) * 41; exit.PnL != want {
		t.Fatalf("wrong pnl: got %.2f want %.2f", exit.PnL, want)
	}
}

func TestCycleStopsOutWhenPremiumMovesAgainstShort(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	series := crashSeries()
	h.paper.SeedCandles(series)
	contract := h.seedCallsAround(series, 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}

	// 12 -> 20 is a 66% adverse move against the 50% stop.
	h.paper.SetMark(contract, 20)
	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("stop cycle failed: %v", err)
	}

	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("expected flat after stop, got %s", st)
	}
	trades := h.ledger.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected entry and stop-out, got %d", len(trades))
	}
	if want := (12.0 - 20.0) * 41; trades[1].PnL != want {
		t.Fatalf("wrong stop pnl: got %.2f want %.2f", trades[1].PnL, want)
	}
}

func TestCycleAbortsWithoutCandles(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	h.paper.SeedCandles(crashSeries())
	h.paper.FailWith("candles", fmt.Errorf("gateway unavailable: %w", broker.ErrTransient))

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("transient candle failure must not be fatal: %v", err)
	}
	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("no candles must mean no action, got %s", st)
	}
	if trades := h.ledger.Trades(); len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
}

func TestCycleFatalOnAuthFailure(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	h.paper.SeedCandles(crashSeries())
	h.paper.FailWith("candles", fmt.Errorf("key revoked: %w", broker.ErrAuth))

	err := h.coord.RunCycle(context.Background())
	if !errors.Is(err, broker.ErrAuth) {
		t.Fatalf("auth failure must stop the loop, got %v", err)
	}
}

func TestCycleSkipsWithoutFlip(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	h.paper.SeedCandles(risingSeries(40))
	h.seedCallsAround(risingSeries(40), 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("no flip must mean no entry, got %s", st)
	}
}

func TestCycleRejectsPremiumOutOfBand(t *testing.T) {
	h := newHarness(t, 1000, 250, 300)
	series := crashSeries()
	h.paper.SeedCandles(series)
	h.seedCallsAround(series, 12) // far below the band

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("out-of-band premium must block entry, got %s", st)
	}
}

func TestCycleSkipsBelowCapitalFloor(t *testing.T) {
	h := newHarness(t, 50, 0, 0) // floor is 100
	series := crashSeries()
	h.paper.SeedCandles(series)
	h.seedCallsAround(series, 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("entry below the capital floor, state %s", st)
	}
}

func TestStaleOrdersAreCancelled(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	h.paper.SeedCandles(risingSeries(40))
	h.paper.AddOpenOrder(broker.Order{ID: "o-1", Symbol: "C-BTC-51000", Side: broker.Sell, Qty: 5})

	// StaleOrderCycles is 2: seen on cycles 1 and 2, cancelled on cycle 3.
	for i := 0; i < 3; i++ {
		if err := h.coord.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}

	open, err := h.paper.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("stale order survived %d cycles: %v", 3, open)
	}
}

func TestDegradedOrderFetchDoesNotAbortCycle(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	series := crashSeries()
	h.paper.SeedCandles(series)
	h.seedCallsAround(series, 12)
	h.paper.FailWith("orders", fmt.Errorf("listing timed out: %w", broker.ErrTransient))
	h.paper.FailWith("positions", fmt.Errorf("listing timed out: %w", broker.ErrTransient))

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if _, held := h.machine.Position(); !held {
		t.Fatalf("degraded order/position fetch must not block the entry")
	}
}

func TestEntryOrderFailureRollsBack(t *testing.T) {
	h := newHarness(t, 1000, 0, 0)
	series := crashSeries()
	h.paper.SeedCandles(series)
	h.seedCallsAround(series, 12)
	h.paper.FailWith("place", fmt.Errorf("venue rejected: %w", broker.ErrTransient))

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("failed entry must roll back to flat, got %s", st)
	}
	if trades := h.ledger.Trades(); len(trades) != 0 {
		t.Fatalf("expected no trade records, got %d", len(trades))
	}

	// The venue recovers; the flip is still in force on the next cycle.
	h.paper.FailWith("place", nil)
	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("recovery cycle failed: %v", err)
	}
	if _, held := h.machine.Position(); !held {
		t.Fatalf("expected entry after the venue recovered")
	}
}

// restingVenue acks orders without filling them while pend is set, standing
// in for a venue that queues rather than crosses.
type restingVenue struct {
	*broker.Paper
	pend bool
}

func (v *restingVenue) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	if v.pend {
		return broker.OrderAck{OrderID: "resting-1", Status: broker.StatusNew}, nil
	}
	return v.Paper.PlaceOrder(ctx, req)
}

func TestUnfilledEntryAckDoesNotOpenPosition(t *testing.T) {
	paper := broker.NewPaper(1000)
	venue := &restingVenue{Paper: paper, pend: true}
	h := newHarnessWith(t, venue, paper, 0, 0)
	series := crashSeries()
	paper.SeedCandles(series)
	h.seedCallsAround(series, 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("acked-but-unfilled entry must not open a position, got %s", st)
	}
	if trades := h.ledger.Trades(); len(trades) != 0 {
		t.Fatalf("no fill means no trade record, got %d", len(trades))
	}

	// The order fills on a later cycle's retry; entry price must come from
	// that fill, never from the empty ack.
	venue.pend = false
	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("retry cycle failed: %v", err)
	}
	pos, held := h.machine.Position()
	if !held {
		t.Fatalf("expected entry once the order fills")
	}
	if pos.EntryPrice != 12 {
		t.Fatalf("entry price must be the fill price, got %.2f", pos.EntryPrice)
	}
}

func TestUnfilledExitAckKeepsPositionOpen(t *testing.T) {
	paper := broker.NewPaper(1000)
	venue := &restingVenue{Paper: paper}
	h := newHarnessWith(t, venue, paper, 0, 0)
	series := crashSeries()
	paper.SeedCandles(series)
	h.seedCallsAround(series, 12)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}
	if _, held := h.machine.Position(); !held {
		t.Fatalf("expected an open position")
	}

	venue.pend = true
	series = append(series, bar(len(series), series[len(series)-1].Close+3000))
	paper.SeedCandles(series)

	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("exit cycle failed: %v", err)
	}

	if st := h.machine.State(); st != position.Open {
		t.Fatalf("unfilled exit must leave the position open, got %s", st)
	}
	if trades := h.ledger.Trades(); len(trades) != 1 {
		t.Fatalf("no exit fill means no exit record, got %d trades", len(trades))
	}

	// The next cycle retries the exit and this time the venue crosses.
	venue.pend = false
	if err := h.coord.RunCycle(context.Background()); err != nil {
		t.Fatalf("retry cycle failed: %v", err)
	}
	if st := h.machine.State(); st != position.Flat {
		t.Fatalf("expected flat after the filled exit, got %s", st)
	}
}
