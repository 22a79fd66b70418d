package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/storage"
)

// Seeds one ready-to-trade pair into the config DB so the bot has
// something to act on. Edit the literal below and rerun; the row is
// upserted by symbol.
func main() {
	dbPath := os.Getenv("BOT_DB_PATH")
	if dbPath == "" {
		dbPath = "bot_config.db"
	}

	store, err := storage.NewConfigStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open config db: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	pair := &domain.PairConfig{
		Symbol:         "BTCUSDT",
		Enabled:        true,
		MarginMode:     domain.MarginIsolation,
		Leverage:       5,
		SizeMode:       domain.SizeMarginUSDT,
		SizeValue:      50, // 50 USDT margin -> 250 USDT notional at 5x
		SLEnabled:      true,
		SLPct:          0.01,
		TPEnabled:      true,
		SameSidePolicy: domain.SameSideReset,

		BreakevenEnabled:    true,
		BreakevenTriggerPct: 0.005,
		BreakevenOffsetPct:  0.001,

		TrailingEnabled:         true,
		TrailingTriggerPct:      0.02,
		TrailingStepPct:         0.005,
		TrailingDistancePct:     0.01,
		TrailingMoveImmediately: false,
	}

	levels := []domain.TPLevel{
		{Symbol: pair.Symbol, Level: 1, TargetPct: 0.01, CloseFrac: 0.5, Enabled: true},
		{Symbol: pair.Symbol, Level: 2, TargetPct: 0.02, CloseFrac: 0.25, Enabled: true},
	}

	if err := store.UpsertPair(ctx, pair); err != nil {
		log.Fatalf("Failed to save pair: %v", err)
	}
	if err := store.ReplaceTPLevels(ctx, pair.Symbol, levels); err != nil {
		log.Fatalf("Failed to save TP levels: %v", err)
	}

	fmt.Printf("✅ Pair seeded into %s\n", dbPath)
	fmt.Printf("Symbol: %s\n", pair.Symbol)
	fmt.Printf("Leverage: %dx %s\n", pair.Leverage, pair.MarginMode)
	fmt.Printf("Size: %s %.2f\n", pair.SizeMode, pair.SizeValue)
	fmt.Printf("SL: %.2f%%  breakeven at +%.2f%%  trailing after +%.2f%%\n",
		pair.SLPct*100, pair.BreakevenTriggerPct*100, pair.TrailingTriggerPct*100)
	for _, lv := range levels {
		fmt.Printf("TP%d: +%.2f%% closes %.0f%%\n", lv.Level, lv.TargetPct*100, lv.CloseFrac*100)
	}
}
