package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

// Read-only probe of the Bitunix API: public market data plus the
// signed account endpoints. Places no orders.
func main() {
	symbol := "BTCUSDT"
	if len(os.Args) > 1 {
		symbol = os.Args[1]
	}

	_ = godotenv.Load("bitunix.env")
	apiKey := os.Getenv("BITUNIX_API_KEY")
	apiSecret := os.Getenv("BITUNIX_SECRET_KEY")
	if apiKey == "" || apiSecret == "" {
		fmt.Println("BITUNIX_API_KEY and BITUNIX_SECRET_KEY must be set")
		os.Exit(1)
	}

	fmt.Printf("Testing Bitunix Interaction...\n")
	fmt.Printf("Endpoint: %s\n", exchange.BitunixBaseURL)
	fmt.Printf("API Key: %s...\n", apiKey[:4])

	client := exchange.NewBitunixClient(apiKey, apiSecret, "", zap.NewNop())
	ctx := context.Background()

	// 1. Public Endpoints
	info, err := client.GetSymbolInfo(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get symbol info: %v\n", err)
	} else {
		fmt.Printf("✅ Symbol Info (%s): basePrecision=%d, quotePrecision=%d, minTradeVolume=%f\n",
			info.Symbol, info.BasePrecision, info.QuotePrecision, info.MinTradeVolume)
	}

	price, err := client.GetLastPrice(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Last Price (%s): %f\n", symbol, price)
	}

	// 2. Signed Endpoints
	available, err := client.GetAvailableBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Available Balance: %f USDT\n", available)
	}

	positions, err := client.GetPositions(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get positions: %v\n", err)
	} else if len(positions) == 0 {
		fmt.Printf("✅ Positions (%s): none open\n", symbol)
	} else {
		for _, p := range positions {
			fmt.Printf("✅ Position: id=%s side=%s qty=%f entry=%f sl=%f\n",
				p.PositionID, p.Side, p.Quantity, p.EntryPrice, p.SLPrice)
		}
	}

	pending, err := client.GetPendingTPSL(ctx, symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get pending TP/SL: %v\n", err)
	} else {
		fmt.Printf("✅ Pending TP/SL orders (%s): %d\n", symbol, len(pending))
		for _, o := range pending {
			fmt.Printf("   id=%s tpPrice=%q slPrice=%q slQty=%f\n", o.ID, o.TPPrice, o.SLPrice, o.SLQty)
		}
	}
}
