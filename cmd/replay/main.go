// Binary replay drives the engine over a CSV candle file against the paper
// venue, one cycle per bar, and prints the resulting trade ledger.
package main

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/bipulsin/trademanthan-sub001/internal/broker"
	"github.com/bipulsin/trademanthan-sub001/internal/config"
	"github.com/bipulsin/trademanthan-sub001/internal/engine"
	"github.com/bipulsin/trademanthan-sub001/internal/indicator"
	"github.com/bipulsin/trademanthan-sub001/internal/journal"
	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
	"github.com/bipulsin/trademanthan-sub001/internal/position"
	"github.com/bipulsin/trademanthan-sub001/internal/risk"
	"github.com/bipulsin/trademanthan-sub001/internal/util"
)

const startingCash = 100000

func main() {
	log := util.NewConsoleLogger(getEnv("LOG_LEVEL", "info"))
	if len(os.Args) < 2 {
		log.Fatal().Msg("usage: replay <candles.csv>")
	}

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	candles, err := loadCandles(os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Str("file", os.Args[1]).Msg("load candles")
	}
	if len(candles) <= cfg.Indicator.Length+1 {
		log.Fatal().Int("bars", len(candles)).Msg("not enough bars for the indicator window")
	}

	paper := broker.NewPaper(startingCash)
	machine := position.NewMachine(log)
	ledger := journal.NewLedger(len(candles))

	// The replay clock follows the bar being evaluated.
	var clock time.Time
	now := func() time.Time { return clock }

	// Premium bands are calibrated for live quotes; synthetic replay
	// premiums would never clear them.
	resolver := options.NewResolver(cfg.Contracts.StrikeIncrement, 0, 0).WithClock(now)

	coord := engine.New(
		engine.Config{
			CandleSymbol: cfg.Broker.CandleSymbol,
			Interval:     cfg.Broker.Interval,
			CandleWindow: cfg.Broker.CandleWindow,
			FetchTimeout: 2 * time.Second,
			Side:         position.Side(cfg.Contracts.Side),
		},
		paper,
		indicator.New(cfg.Indicator.Length, cfg.Indicator.Factor),
		engine.DefaultEvaluator(),
		resolver,
		risk.Limits{
			Allocation:      cfg.Risk.Allocation,
			LotValue:        cfg.Risk.LotValue,
			MaxLossFraction: cfg.Risk.MaxLossFraction,
			CapitalFloor:    cfg.Risk.CapitalFloor,
		},
		machine,
		ledger,
		broker.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		log,
	)

	ctx := context.Background()
	for i := cfg.Indicator.Length + 1; i <= len(candles); i++ {
		window := candles[:i]
		clock = window[len(window)-1].Ts
		paper.SeedCandles(window)
		seedCatalog(paper, cfg.Contracts.StrikeIncrement, window[len(window)-1].Close, clock)
		if err := coord.RunCycle(ctx); err != nil {
			log.Fatal().Err(err).Time("bar", clock).Msg("replay aborted")
		}
	}

	trades := ledger.Trades()
	for _, tr := range trades {
		log.Info().
			Time("ts", tr.Ts).
			Str("contract", tr.Contract).
			Str("side", tr.Side).
			Int("qty", tr.Qty).
			Float64("premium", tr.Premium).
			Float64("pnl", tr.PnL).
			Str("notes", tr.Notes).
			Msg("trade")
	}
	log.Info().
		Int("bars", len(candles)).
		Int("trades", len(trades)).
		Float64("realized_pnl", paper.RealizedPnL()).
		Msg("replay complete")
}

// seedCatalog synthesizes calls and puts around the spot with expiry the next
// day. Premium is intrinsic value plus a flat time value; crude, but enough
// for the resolver and the stop-loss path to behave as they would live.
func seedCatalog(paper *broker.Paper, increment, spot float64, now time.Time) {
	if increment <= 0 {
		increment = 100
	}
	timeValue := 0.005 * spot
	expiry := now.AddDate(0, 0, 1)

	var catalog []options.Contract
	lo := math.Floor(spot*0.95/increment) * increment
	hi := math.Ceil(spot*1.05/increment) * increment
	for strike := lo; strike <= hi; strike += increment {
		catalog = append(catalog,
			options.Contract{
				Symbol:  "C-" + strconv.FormatFloat(strike, 'f', 0, 64),
				Strike:  strike,
				Expiry:  expiry,
				Type:    options.Call,
				Premium: math.Max(spot-strike, 0) + timeValue,
			},
			options.Contract{
				Symbol:  "P-" + strconv.FormatFloat(strike, 'f', 0, 64),
				Strike:  strike,
				Expiry:  expiry,
				Type:    options.Put,
				Premium: math.Max(strike-spot, 0) + timeValue,
			},
		)
	}
	paper.SeedCatalog(catalog)
}

// loadCandles reads ts,open,high,low,close[,volume] rows. The timestamp may
// be unix seconds, unix milliseconds, or RFC 3339. A header row is skipped.
func loadCandles(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []market.Candle
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 5 {
			continue
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			continue // header or junk row
		}
		vals := make([]float64, 4)
		ok := true
		for j := 0; j < 4; j++ {
			vals[j], err = strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		c := market.Candle{Ts: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
		if len(rec) > 5 {
			c.Volume, _ = strconv.ParseFloat(rec[5], 64)
		}
		out = append(out, c)
	}
	return market.Normalize(out)
}

func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
