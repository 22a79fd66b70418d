package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/exchange"
)

// Applies margin mode and leverage to one symbol and reports what the
// venue accepted. Useful for verifying that API keys carry trade
// permission before pointing webhooks at the bot.
func main() {
	_ = godotenv.Load("bitunix.env")

	apiKey := os.Getenv("BITUNIX_API_KEY")
	apiSecret := os.Getenv("BITUNIX_SECRET_KEY")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("Missing BITUNIX_API_KEY or BITUNIX_SECRET_KEY")
	}

	symbol := "BTCUSDT"
	if len(os.Args) > 1 {
		symbol = os.Args[1]
	}

	client := exchange.NewBitunixClient(apiKey, apiSecret, "", zap.NewNop())
	ctx := context.Background()

	fmt.Printf("Testing margin settings for %s...\n", symbol)

	if err := client.SetMarginMode(ctx, symbol, domain.MarginIsolation); err != nil {
		fmt.Printf("❌ Set margin mode ISOLATION: %v\n", err)
	} else {
		fmt.Println("✅ Margin mode set to ISOLATION")
	}

	if err := client.SetLeverage(ctx, symbol, 5); err != nil {
		fmt.Printf("❌ Set leverage 5x: %v\n", err)
	} else {
		fmt.Println("✅ Leverage set to 5x")
	}

	balance, err := client.GetAvailableBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Available balance: %.2f USDT\n", balance)
	}
}
