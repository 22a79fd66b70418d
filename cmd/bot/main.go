package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/exchange"
	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/logger"
	"github.com/vitos/bitunix_signal_bot/internal/infrastructure/storage"
	"github.com/vitos/bitunix_signal_bot/internal/usecase"
	"github.com/vitos/bitunix_signal_bot/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		RESTEndpoint  string `yaml:"rest_endpoint"`
		WSEndpoint    string `yaml:"ws_endpoint"`
		WSEnabled     bool   `yaml:"ws_enabled"`
		PriceMaxAgeMs int    `yaml:"price_max_age_ms"`
	} `yaml:"exchange"`
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Queue struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"queue"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Load Secrets (bitunix.env is optional, real env vars win)
	_ = godotenv.Load("bitunix.env")

	apiKey := os.Getenv("BITUNIX_API_KEY")
	apiSecret := os.Getenv("BITUNIX_SECRET_KEY")

	// 3. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if apiKey == "" || apiSecret == "" {
		log.Fatal("BITUNIX_API_KEY and BITUNIX_SECRET_KEY must be set")
	}

	// 4. Init Storage and Load Pair Configs
	dbPath := cfg.Storage.DBPath
	if env := os.Getenv("BOT_DB_PATH"); env != "" {
		dbPath = env
	}
	if dbPath == "" {
		dbPath = "bot_config.db"
	}
	store, err := storage.NewConfigStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	pairs, err := store.LoadPairs(context.Background())
	if err != nil {
		log.Fatal("Failed to load pair configs", zap.Error(err))
	}
	if len(pairs) == 0 {
		log.Warn("No pairs configured, every webhook will be rejected",
			zap.String("db_path", dbPath))
	}
	for symbol, pc := range pairs {
		log.Info("Pair configured",
			zap.String("symbol", symbol),
			zap.Bool("enabled", pc.Enabled),
			zap.Int("leverage", pc.Leverage),
			zap.String("size_mode", string(pc.SizeMode)),
			zap.Int("tp_levels", len(pc.TPLevels)))
	}

	// 5. Init Exchange Client
	client := exchange.NewBitunixClient(apiKey, apiSecret, cfg.Exchange.RESTEndpoint, log)

	var ticker *exchange.TickerStream
	if cfg.Exchange.WSEnabled {
		ticker = exchange.NewTickerStream(cfg.Exchange.WSEndpoint, log)
		for symbol := range pairs {
			ticker.Track(symbol)
		}
		maxAge := time.Duration(cfg.Exchange.PriceMaxAgeMs) * time.Millisecond
		if maxAge <= 0 {
			maxAge = 3 * time.Second
		}
		client.AttachTicker(ticker, maxAge)
		ticker.Start()
	}

	// 6. Init Engine
	registry := usecase.NewSymbolRegistry()
	monitors := usecase.NewMonitorService(client, log)
	executor := usecase.NewTradeExecutor(client, registry, monitors, pairs, log)
	dispatcher := usecase.NewSignalDispatcher(executor, cfg.Queue.Capacity, log)
	parser := usecase.NewSignalParser()

	// 7. Init Web Server
	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 5001
	}
	server := web.NewServer(host, port, parser, executor, dispatcher, registry, log)

	// 8. Start Server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}

	dispatcher.Stop()
	monitors.StopAll(registry)
	if ticker != nil {
		ticker.Stop()
	}

	log.Info("Shutdown complete")
}
