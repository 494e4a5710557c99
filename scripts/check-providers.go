package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/exchange"
)

func main() {
	fmt.Println("🔧 Checking venue connectivity...")

	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if len(cfg.Providers.Order) == 0 {
		fmt.Println("❌ No providers configured")
		os.Exit(1)
	}
	fmt.Printf("✅ Configured providers (in fallback order): %v\n", cfg.Providers.Order)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	registry, err := exchange.NewRegistry(ctx, cfg.Providers, nil, logger)
	if err != nil {
		fmt.Printf("❌ No providers came up: %v\n", err)
		os.Exit(1)
	}
	defer registry.Close()

	ready := 0
	fmt.Println()
	fmt.Printf("%-12s %-10s %-8s %-8s %s\n", "PROVIDER", "PRIORITY", "READY", "MARKETS", "ERROR")
	for _, s := range registry.Statuses() {
		readiness := "no"
		if s.Ready {
			readiness = "yes"
			ready++
		}
		fmt.Printf("%-12s %-10d %-8s %-8d %s\n", s.Name, s.Priority, readiness, s.Markets, s.InitError)
	}
	fmt.Println()

	if ready == len(registry.Statuses()) {
		fmt.Printf("🎉 All %d providers ready\n", ready)
	} else {
		fmt.Printf("⚠️  %d/%d providers ready\n", ready, len(registry.Statuses()))
	}
}
