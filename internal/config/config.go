// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bipulsin/trademanthan-sub001/internal/schedule"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Broker describes venue connectivity. API credentials come from the
// environment, never from this file.
type Broker struct {
	BaseURL      string  `yaml:"base_url"`
	StreamURL    string  `yaml:"stream_url"`
	Underlying   string  `yaml:"underlying"`
	CandleSymbol string  `yaml:"candle_symbol"`
	Interval     string  `yaml:"interval"`
	CandleWindow int     `yaml:"candle_window"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
}

// Indicator groups the trend detector knobs.
type Indicator struct {
	Length int     `yaml:"length"`
	Factor float64 `yaml:"factor"`
}

// Contracts tunes option resolution and the premium gate.
type Contracts struct {
	StrikeIncrement float64 `yaml:"strike_increment"`
	PremiumMin      float64 `yaml:"premium_min"`
	PremiumMax      float64 `yaml:"premium_max"`
	Side            string  `yaml:"side"` // "short" sells premium, "long" buys it
}

// Risk encodes sizing and exit guard-rails.
type Risk struct {
	Allocation      float64 `yaml:"allocation"`
	LotValue        float64 `yaml:"lot_value"`
	MaxLossFraction float64 `yaml:"max_loss_fraction"`
	CapitalFloor    float64 `yaml:"capital_floor"`
}

// Schedule lists the daily execution slots and the firing guards.
type Schedule struct {
	Slots             []string `yaml:"slots"`
	ToleranceSecs     int      `yaml:"tolerance_secs"`
	MinSeparationSecs int      `yaml:"min_separation_secs"`
	MaxWaitSecs       int      `yaml:"max_wait_secs"`
	Timezone          string   `yaml:"timezone"`
}

// Engine tunes the execution coordinator's resilience machinery.
type Engine struct {
	FetchTimeoutSecs    int `yaml:"fetch_timeout_secs"`
	FetchWorkers        int `yaml:"fetch_workers"`
	RetryAttempts       int `yaml:"retry_attempts"`
	BreakerThreshold    int `yaml:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs"`
	StaleOrderCycles    int `yaml:"stale_order_cycles"`
	BalanceTTLSecs      int `yaml:"balance_ttl_secs"`
}

// Journal points at the append-only record files.
type Journal struct {
	TradesPath    string `yaml:"trades_path"`
	SnapshotsPath string `yaml:"snapshots_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Broker    Broker    `yaml:"broker"`
	Indicator Indicator `yaml:"indicator"`
	Contracts Contracts `yaml:"contracts"`
	Risk      Risk      `yaml:"risk"`
	Schedule  Schedule  `yaml:"schedule"`
	Engine    Engine    `yaml:"engine"`
	Journal   Journal   `yaml:"journal"`
}

// Load reads a YAML file from disk, hydrates a Config struct, and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the engine cannot start with. A failure
// here is fatal at startup, before the scheduler loop begins.
func (c *Config) Validate() error {
	if c.Broker.CandleSymbol == "" || c.Broker.Underlying == "" {
		return fmt.Errorf("config: broker underlying and candle_symbol are required")
	}
	if c.Broker.Interval == "" {
		return fmt.Errorf("config: broker interval is required")
	}
	if c.Broker.CandleWindow <= c.Indicator.Length {
		return fmt.Errorf("config: candle_window %d must exceed indicator length %d",
			c.Broker.CandleWindow, c.Indicator.Length)
	}
	if c.Indicator.Length <= 0 || c.Indicator.Factor <= 0 {
		return fmt.Errorf("config: indicator length and factor must be positive")
	}
	if c.Contracts.PremiumMin > c.Contracts.PremiumMax {
		return fmt.Errorf("config: premium band min %.2f exceeds max %.2f",
			c.Contracts.PremiumMin, c.Contracts.PremiumMax)
	}
	if s := c.Contracts.Side; s != "" && s != "short" && s != "long" {
		return fmt.Errorf("config: contracts side must be short or long, got %q", s)
	}
	if len(c.Schedule.Slots) == 0 {
		return fmt.Errorf("config: at least one schedule slot is required")
	}
	for _, s := range c.Schedule.Slots {
		if _, err := schedule.ParseTimeOfDay(s); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("config: bad timezone: %w", err)
		}
	}
	return nil
}

// ScheduleConfig converts the YAML schedule block into the scheduler's config.
func (c *Config) ScheduleConfig() (schedule.Config, error) {
	slots := make([]schedule.TimeOfDay, 0, len(c.Schedule.Slots))
	for _, s := range c.Schedule.Slots {
		tod, err := schedule.ParseTimeOfDay(s)
		if err != nil {
			return schedule.Config{}, err
		}
		slots = append(slots, tod)
	}
	loc := time.UTC
	if c.Schedule.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(c.Schedule.Timezone)
		if err != nil {
			return schedule.Config{}, err
		}
	}
	return schedule.Config{
		Slots:         slots,
		Tolerance:     time.Duration(c.Schedule.ToleranceSecs) * time.Second,
		MinSeparation: time.Duration(c.Schedule.MinSeparationSecs) * time.Second,
		MaxWait:       time.Duration(c.Schedule.MaxWaitSecs) * time.Second,
		Location:      loc,
	}, nil
}
