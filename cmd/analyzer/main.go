package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vitos/bitunix_signal_bot/internal/usecase"
)

// Summarizes a captured bot log into per-symbol trade activity. Pass a
// log file or a directory of date-stamped logs; defaults to bot.log in
// the working directory.
func main() {
	path := "bot.log"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		latest, err := usecase.LatestLogFile(path)
		if err != nil {
			fmt.Printf("Error picking log file: %v\n", err)
			return
		}
		path = latest
	}

	fmt.Printf("Analyzing file: %s\n", path)

	svc := usecase.NewLogAnalyzerService(zap.NewNop())
	results, err := svc.AnalyzeFile(path)
	if err != nil {
		fmt.Printf("Error analyzing log: %v\n", err)
		return
	}
	if len(results) == 0 {
		fmt.Println("No symbol activity found.")
		return
	}

	fmt.Printf("\nPer-symbol activity (%d symbols):\n", len(results))
	fmt.Printf("%-14s | %-7s | %-5s | %-6s | %-5s | %-4s | %-8s | %-7s | %-5s | %-6s | %s\n",
		"Symbol", "Signals", "Opens", "Closes", "Flips", "TPs", "SL moves", "Rejects", "Warns", "Errors", "Last activity")
	fmt.Println("--------------------------------------------------------------------------------------------------------")

	for _, res := range results {
		last := "-"
		if !res.LastSeen.IsZero() {
			last = res.LastSeen.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-14s | %-7d | %-5d | %-6d | %-5d | %-4d | %-8d | %-7d | %-5d | %-6d | %s\n",
			res.Symbol, res.Signals, res.Opens, res.Closes, res.Flips,
			res.TPOrders, res.StopMoves, res.Rejects, res.Warns, res.Errors, last)
	}
}
