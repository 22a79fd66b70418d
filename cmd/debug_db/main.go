package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/storage"
)

// Dumps every pair config and its TP ladder from the config DB.
func main() {
	dbPath := os.Getenv("BOT_DB_PATH")
	if dbPath == "" {
		dbPath = "bot_config.db"
	}
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	store, err := storage.NewConfigStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	pairs, err := store.LoadPairs(context.Background())
	if err != nil {
		fmt.Printf("Failed to load pairs: %v\n", err)
		os.Exit(1)
	}

	symbols := make([]string, 0, len(pairs))
	for s := range pairs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Printf("Found %d pairs in %s:\n", len(pairs), dbPath)
	for _, symbol := range symbols {
		pc := pairs[symbol]
		state := "enabled"
		if !pc.Enabled {
			state = "disabled"
		}
		fmt.Printf("- %s (%s): %dx %s, size %s %.2f, policy %s\n",
			pc.Symbol, state, pc.Leverage, pc.MarginMode, pc.SizeMode, pc.SizeValue, pc.SameSidePolicy)

		if pc.SLEnabled {
			fmt.Printf("  SL: %.2f%%", pc.SLPct*100)
			if pc.BreakevenEnabled {
				fmt.Printf(", breakeven at +%.2f%% (offset %.2f%%)", pc.BreakevenTriggerPct*100, pc.BreakevenOffsetPct*100)
			}
			if pc.TrailingEnabled {
				fmt.Printf(", trailing after +%.2f%% (step %.2f%%, distance %.2f%%)",
					pc.TrailingTriggerPct*100, pc.TrailingStepPct*100, pc.TrailingDistancePct*100)
			}
			fmt.Println()
		} else {
			fmt.Println("  SL: off")
		}

		if !pc.TPEnabled {
			fmt.Println("  TP: off")
			continue
		}
		if len(pc.TPLevels) == 0 {
			fmt.Println("  TP: enabled but no ladder rows")
			continue
		}
		for _, lv := range pc.TPLevels {
			fmt.Printf("  TP%d: +%.2f%% closes %.0f%%\n", lv.Level, lv.TargetPct*100, lv.CloseFrac*100)
		}
	}
}
