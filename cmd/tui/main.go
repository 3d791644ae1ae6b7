package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"candlefeed-go/internal/config"
	"candlefeed-go/internal/market"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Candlefeed Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit products")
		fmt.Println("3) Edit history and indicator knobs")
		fmt.Println("4) Edit merge and sync knobs")
		fmt.Println("5) Save config")
		fmt.Println("6) Launch candle engine")
		fmt.Println("7) Show current candles from running engine")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editProducts(reader, cfg)
		case "3":
			editIndicators(reader, cfg)
		case "4":
			editReconcile(reader, cfg)
		case "5":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved, config invalid: %v\n", err)
			} else if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchEngine(reader)
		case "7":
			showCurrent(cfg)
		case "8":
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
	fmt.Printf("Provider: %s (%s)\n", cfg.Exchange.Provider, cfg.Exchange.RestURL)
	fmt.Println("Products:", strings.Join(cfg.Exchange.Products, ", "))
	fmt.Printf("REST rate limit: %.1f rps burst %d, trade page %d\n", cfg.Exchange.RateLimit, cfg.Exchange.RateBurst, cfg.Exchange.TradePageLimit)
	fmt.Printf("Merge: cooldown %s, %d attempts, %d pages, %d pending\n", cfg.Merge.Cooldown(), cfg.Merge.MaxFetchAttempts, cfg.Merge.HistoryPages, cfg.Merge.MaxPending)
	fmt.Printf("Sync: retry %s, %d attempts, audit %s\n", cfg.Sync.RetryInterval(), cfg.Sync.MaxAttempts, auditLabel(cfg))
	fmt.Printf("History: %d candles, price window %d\n", cfg.History.MaxCandles, cfg.History.PriceWindow)
	fmt.Printf("Indicators: SMA(%d) BB(%d, %.2f)\n", cfg.Indicators.SMAPeriod, cfg.Indicators.BBPeriod, cfg.Indicators.BBMultiplier)
	fmt.Printf("API: %s | metrics: %s\n", cfg.API.Addr, cfg.App.MetricsAddr)
}

func auditLabel(cfg *config.Config) string {
	if cfg.Sync.AuditInterval() <= 0 {
		return "off"
	}
	return cfg.Sync.AuditInterval().String()
}

func editProducts(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Products ---")
	fmt.Printf("Current products: %s\n", strings.Join(cfg.Exchange.Products, ", "))
	fmt.Print("Enter products comma-separated (blank to keep): ")
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		parts := strings.Split(strings.TrimSpace(line), ",")
		cfg.Exchange.Products = nil
		for _, p := range parts {
			if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
				cfg.Exchange.Products = append(cfg.Exchange.Products, trimmed)
			}
		}
	}
}

func editIndicators(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit History / Indicators ---")
	cfg.History.MaxCandles = promptInt(reader, "Max candles kept", cfg.History.MaxCandles)
	cfg.History.PriceWindow = promptInt(reader, "Price window", cfg.History.PriceWindow)
	cfg.Indicators.SMAPeriod = promptInt(reader, "SMA period", cfg.Indicators.SMAPeriod)
	cfg.Indicators.BBPeriod = promptInt(reader, "Bollinger period", cfg.Indicators.BBPeriod)
	cfg.Indicators.BBMultiplier = promptFloat(reader, "Bollinger multiplier", cfg.Indicators.BBMultiplier)
}

func editReconcile(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Merge / Sync ---")
	cfg.Merge.CooldownMs = promptInt(reader, "Merge cooldown (ms)", cfg.Merge.CooldownMs)
	cfg.Merge.MaxFetchAttempts = promptInt(reader, "Merge fetch attempts", cfg.Merge.MaxFetchAttempts)
	cfg.Merge.HistoryPages = promptInt(reader, "Trade history pages", cfg.Merge.HistoryPages)
	cfg.Sync.RetryIntervalMs = promptInt(reader, "Sync retry interval (ms)", cfg.Sync.RetryIntervalMs)
	cfg.Sync.MaxAttempts = promptInt(reader, "Sync attempts", cfg.Sync.MaxAttempts)
	cfg.Sync.AuditIntervalMs = promptInt(reader, "Audit interval (ms, 0 = off)", cfg.Sync.AuditIntervalMs)
}

func launchEngine(reader *bufio.Reader) {
	fmt.Println("Launching candle engine (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/feed", "-config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the engine and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func showCurrent(cfg *config.Config) {
	base := apiBase(cfg.API.Addr)
	if base == "" {
		fmt.Println("api is disabled in config")
		return
	}
	client := &http.Client{Timeout: 3 * time.Second}
	for _, product := range cfg.Exchange.Products {
		resp, err := client.Get(base + "/products/" + product + "/candles/current")
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", product, err)
			continue
		}
		var c market.Candle
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("%s: no candle (%s)\n", product, resp.Status)
		} else if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
			fmt.Fprintf(os.Stderr, "%s: decode: %v\n", product, err)
		} else {
			fmt.Printf("%s %s O %s H %s L %s C %s V %s\n", product, c.Time().Format("15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		resp.Body.Close()
	}
}

func apiBase(addr string) string {
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	fmt.Printf("%s [%d]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.Atoi(line)
	if err != nil || val < 0 {
		fmt.Printf("invalid number, keeping %d\n", current)
		return current
	}
	return val
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

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
