// Binary tui is an interactive console for inspecting and editing the
// engine configuration and for launching replays.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bipulsin/trademanthan-sub001/internal/config"
)

const defaultConfigPath = "config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Options Engine Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit risk knobs")
		fmt.Println("3) Edit indicator and contract settings")
		fmt.Println("4) Edit schedule slots")
		fmt.Println("5) Save config")
		fmt.Println("6) Run a replay")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editContracts(reader, cfg)
		case "4":
			editSlots(reader, cfg)
		case "5":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			runReplay(reader)
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Underlying: %s | candles: %s %s x%d\n",
		cfg.Broker.Underlying, cfg.Broker.CandleSymbol, cfg.Broker.Interval, cfg.Broker.CandleWindow)
	fmt.Printf("Indicator: length %d, factor %.2f\n", cfg.Indicator.Length, cfg.Indicator.Factor)
	fmt.Printf("Contracts: %s side, strikes every %.0f, premium band [%.0f, %.0f]\n",
		side(cfg), cfg.Contracts.StrikeIncrement, cfg.Contracts.PremiumMin, cfg.Contracts.PremiumMax)
	fmt.Printf("Risk: allocation %.0f%%, lot value %.0f, stop %.0f%%, capital floor %.0f\n",
		cfg.Risk.Allocation*100, cfg.Risk.LotValue, cfg.Risk.MaxLossFraction*100, cfg.Risk.CapitalFloor)
	fmt.Printf("Schedule: %d slots (%s), tolerance %ds, separation %ds\n",
		len(cfg.Schedule.Slots), strings.Join(cfg.Schedule.Slots, " "),
		cfg.Schedule.ToleranceSecs, cfg.Schedule.MinSeparationSecs)
}

func side(cfg *config.Config) string {
	if cfg.Contracts.Side == "" {
		return "short"
	}
	return cfg.Contracts.Side
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk ---")
	cfg.Risk.Allocation = promptPercent(reader, "Allocation per entry (%)", cfg.Risk.Allocation)
	cfg.Risk.LotValue = promptFloat(reader, "Lot value per contract", cfg.Risk.LotValue)
	cfg.Risk.MaxLossFraction = promptPercent(reader, "Stop loss (% of entry premium)", cfg.Risk.MaxLossFraction)
	cfg.Risk.CapitalFloor = promptFloat(reader, "Capital floor", cfg.Risk.CapitalFloor)
}

func editContracts(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Indicator / Contracts ---")
	cfg.Indicator.Length = int(promptFloat(reader, "Indicator length (bars)", float64(cfg.Indicator.Length)))
	cfg.Indicator.Factor = promptFloat(reader, "Band factor", cfg.Indicator.Factor)
	cfg.Contracts.StrikeIncrement = promptFloat(reader, "Strike increment", cfg.Contracts.StrikeIncrement)
	cfg.Contracts.PremiumMin = promptFloat(reader, "Premium band min", cfg.Contracts.PremiumMin)
	cfg.Contracts.PremiumMax = promptFloat(reader, "Premium band max", cfg.Contracts.PremiumMax)
}

func editSlots(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Schedule ---")
	fmt.Printf("Current slots: %s\n", strings.Join(cfg.Schedule.Slots, " "))
	fmt.Print("Enter HH:MM slots space-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Schedule.Slots = strings.Fields(strings.TrimSpace(line))
	}
	cfg.Schedule.ToleranceSecs = int(promptFloat(reader, "Tolerance (seconds)", float64(cfg.Schedule.ToleranceSecs)))
	cfg.Schedule.MinSeparationSecs = int(promptFloat(reader, "Min separation (seconds)", float64(cfg.Schedule.MinSeparationSecs)))
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func runReplay(reader *bufio.Reader) {
	fmt.Print("Candle CSV path: ")
	line, _ := reader.ReadString('\n')
	path := strings.TrimSpace(line)
	if path == "" {
		fmt.Println("no file given")
		return
	}

	fmt.Println("Running replay (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/replay", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start replay: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(configPath(), cfg)
}

func configPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return defaultConfigPath
}
