// Binary bot runs the scheduled options engine against the live venue.
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bipulsin/trademanthan-sub001/internal/broker"
	"github.com/bipulsin/trademanthan-sub001/internal/config"
	"github.com/bipulsin/trademanthan-sub001/internal/engine"
	"github.com/bipulsin/trademanthan-sub001/internal/indicator"
	"github.com/bipulsin/trademanthan-sub001/internal/journal"
	"github.com/bipulsin/trademanthan-sub001/internal/metrics"
	"github.com/bipulsin/trademanthan-sub001/internal/options"
	"github.com/bipulsin/trademanthan-sub001/internal/position"
	"github.com/bipulsin/trademanthan-sub001/internal/risk"
	"github.com/bipulsin/trademanthan-sub001/internal/schedule"
	"github.com/bipulsin/trademanthan-sub001/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort

	cfgPath := getEnv("CONFIG_PATH", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	apiKey := os.Getenv("BROKER_API_KEY")
	apiSecret := os.Getenv("BROKER_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal().Msg("BROKER_API_KEY and BROKER_API_SECRET must be set")
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := broker.NewRESTClient(broker.RESTConfig{
		BaseURL:    cfg.Broker.BaseURL,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Underlying: cfg.Broker.Underlying,
		RatePerSec: cfg.Broker.RatePerSec,
	}, log)

	// The public stream keeps the mark cache warm between cycles; losing it
	// only costs extra REST reads, so its lifecycle is fire and forget.
	if cfg.Broker.StreamURL != "" {
		prices := broker.NewValueCache(time.Minute)
		stream := broker.NewStream(cfg.Broker.StreamURL, []string{cfg.Broker.CandleSymbol}, prices, log)
		ticks := make(chan broker.Tick, 256)
		go func() {
			defer close(ticks)
			if err := stream.Run(ctx, ticks); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("price stream stopped")
			}
		}()
		go func() {
			for tk := range ticks {
				metrics.UnderlyingPrice.Set(tk.Price)
			}
		}()
	}

	var recorder journal.Recorder = journal.Nop{}
	if cfg.Journal.TradesPath != "" {
		jr, err := journal.NewJSONLRecorder(cfg.Journal.TradesPath, cfg.Journal.SnapshotsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open journal")
		}
		defer jr.Close()
		recorder = jr
	}

	resolver := options.NewResolver(
		cfg.Contracts.StrikeIncrement,
		cfg.Contracts.PremiumMin,
		cfg.Contracts.PremiumMax,
	)

	retry := broker.DefaultRetryPolicy()
	if cfg.Engine.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Engine.RetryAttempts
	}

	coord := engine.New(
		engine.Config{
			CandleSymbol:     cfg.Broker.CandleSymbol,
			Interval:         cfg.Broker.Interval,
			CandleWindow:     cfg.Broker.CandleWindow,
			FetchTimeout:     time.Duration(cfg.Engine.FetchTimeoutSecs) * time.Second,
			FetchWorkers:     cfg.Engine.FetchWorkers,
			StaleOrderCycles: cfg.Engine.StaleOrderCycles,
			BreakerThreshold: cfg.Engine.BreakerThreshold,
			BreakerCooldown:  time.Duration(cfg.Engine.BreakerCooldownSecs) * time.Second,
			BalanceTTL:       time.Duration(cfg.Engine.BalanceTTLSecs) * time.Second,
			Side:             position.Side(cfg.Contracts.Side),
		},
		client,
		indicator.New(cfg.Indicator.Length, cfg.Indicator.Factor),
		engine.DefaultEvaluator(),
		resolver,
		risk.Limits{
			Allocation:      cfg.Risk.Allocation,
			LotValue:        cfg.Risk.LotValue,
			MaxLossFraction: cfg.Risk.MaxLossFraction,
			CapitalFloor:    cfg.Risk.CapitalFloor,
		},
		position.NewMachine(log),
		recorder,
		retry,
		log,
	)

	schedCfg, err := cfg.ScheduleConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("schedule config")
	}
	sched, err := schedule.New(schedCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}

	runner := engine.NewRunner(coord, sched, log)
	if err := runner.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start engine")
	}
	log.Info().Str("env", cfg.App.Env).Int("slots", len(schedCfg.Slots)).Msg("engine running")

	if err := runner.Wait(); err != nil {
		log.Fatal().Err(err).Msg("engine terminated")
	}
	log.Info().Msg("shutting down")
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
