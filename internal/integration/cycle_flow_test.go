package integration

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bipulsin/trademanthan-sub001/internal/broker"
	"github.com/bipulsin/trademanthan-sub001/internal/engine"
	"github.com/bipulsin/trademanthan-sub001/internal/indicator"
	"github.com/bipulsin/trademanthan-sub001/internal/journal"
	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
	"github.com/bipulsin/trademanthan-sub001/internal/position"
	"github.com/bipulsin/trademanthan-sub001/internal/risk"
)

// TestFullTradeRoundTrip drives the coordinator through a complete life of a
// trade against the paper venue: flip down, sell a call, trend flips back,
// buy it back at a decayed premium.
func TestFullTradeRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	base := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	mkBar := func(i int, close float64) market.Candle {
		return market.Candle{
			Ts:    base.Add(time.Duration(i) * 5 * time.Minute),
			Open:  close - 5,
			High:  close + 20,
			Low:   close - 20,
			Close: close,
		}
	}
	var series []market.Candle
	for i := 0; i < 40; i++ {
		series = append(series, mkBar(i, 50000+float64(i)*40))
	}
	series = append(series, mkBar(len(series), series[len(series)-1].Close-2000))

	paper := broker.NewPaper(10000)
	paper.SeedCandles(series)

	trend := indicator.New(10, 3)
	sig, _ := trend.Evaluate(series)
	resolver := options.NewResolver(100, 0, 0).WithClock(func() time.Time { return now })
	strike := resolver.RoundTarget(sig.TrendValue)
	contract := fmt.Sprintf("C-BTC-%.0f", strike)
	paper.SeedCatalog([]options.Contract{{
		Symbol:  contract,
		Strike:  strike,
		Expiry:  now.AddDate(0, 0, 1),
		Type:    options.Call,
		Premium: 260,
	}})

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	machine := position.NewMachine(logger)
	ledger := journal.NewLedger(16)

	coord := engine.New(
		engine.Config{
			CandleSymbol: "BTCUSD",
			Interval:     "5m",
			CandleWindow: 120,
			FetchTimeout: 2 * time.Second,
		},
		paper,
		trend,
		engine.DefaultEvaluator(),
		options.NewResolver(100, 250, 300).WithClock(func() time.Time { return now }),
		risk.Limits{Allocation: 0.5, LotValue: 1, MaxLossFraction: 0.5, CapitalFloor: 500},
		machine,
		ledger,
		broker.DefaultRetryPolicy(),
		logger,
	)

	ctx := context.Background()
	if err := coord.RunCycle(ctx); err != nil {
		t.Fatalf("entry cycle: %v", err)
	}
	pos, held := machine.Position()
	if !held {
		t.Fatalf("expected an open short after the down flip")
	}
	if pos.Contract.Symbol != contract {
		t.Fatalf("wrong contract: got %s want %s", pos.Contract.Symbol, contract)
	}
	if !strings.Contains(buf.String(), "position opened") {
		t.Fatalf("expected an entry log line, got %s", buf.String())
	}

	// Trend flips back up, the sold call decays.
	series = append(series, mkBar(len(series), series[len(series)-1].Close+3000))
	paper.SeedCandles(series)
	paper.SetMark(contract, 180)

	if err := coord.RunCycle(ctx); err != nil {
		t.Fatalf("exit cycle: %v", err)
	}
	if st := machine.State(); st != position.Flat {
		t.Fatalf("expected flat after the reversal, got %s", st)
	}

	trades := ledger.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected entry and exit, got %d trades", len(trades))
	}
	wantPnL := (260.0 - 180.0) * float64(pos.Qty)
	if trades[1].PnL != wantPnL {
		t.Fatalf("wrong round-trip pnl: got %.2f want %.2f", trades[1].PnL, wantPnL)
	}
	if paper.RealizedPnL() != wantPnL {
		t.Fatalf("venue pnl disagrees: got %.2f want %.2f", paper.RealizedPnL(), wantPnL)
	}
}
