package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/ethwatch/wallet-monitor/internal/api"
	"github.com/ethwatch/wallet-monitor/internal/config"
	"github.com/ethwatch/wallet-monitor/internal/etherscan"
	"github.com/ethwatch/wallet-monitor/internal/ethunits"
	"github.com/ethwatch/wallet-monitor/internal/keystore"
	"github.com/ethwatch/wallet-monitor/internal/monitor"
	"github.com/ethwatch/wallet-monitor/internal/notify"
	"github.com/ethwatch/wallet-monitor/internal/storage"
	"github.com/ethwatch/wallet-monitor/internal/stream"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Seed the notification channel from the environment when the store
	// has none yet; operator API calls overwrite it later.
	seedTelegramConfig(cfg, store, log)

	// Initialize chain data client
	chain := etherscan.NewClient(cfg.EtherscanBaseURL, cfg.EtherscanAPIKey)
	log.Info("etherscan client initialized", "base_url", cfg.EtherscanBaseURL)

	// Initialize ethereum RPC for forwarding (optional; forwarding is
	// skipped until it is configured)
	var ethRPC monitor.TxSender
	if cfg.EthRPCURL != "" {
		client, err := ethclient.Dial(cfg.EthRPCURL)
		if err != nil {
			log.Error("dial ethereum rpc", "url", cfg.EthRPCURL, "error", err)
		} else {
			ethRPC = client
			log.Info("ethereum rpc initialized", "url", cfg.EthRPCURL)
		}
	} else {
		log.Warn("ETH_RPC_URL not set, payment forwarding disabled")
	}

	// Initialize notifier and live-update hub
	notifier := notify.New(store, log)
	hub := stream.NewHub(log)
	hub.OnConnect(func() (any, bool) {
		return walletStatusPayload(store, log)
	})

	// Initialize the monitoring core
	keys := keystore.FromEnv()
	watcher := monitor.NewWatcher(chain, store, notifier, hub, cfg.BalanceEpsilonWei, log)
	forwarder := monitor.NewForwarder(ethRPC, keys, store, notifier, hub, cfg.ReceiverAddress, log)
	scheduler := monitor.NewScheduler(store, watcher, forwarder, hub,
		cfg.MonitorMode, cfg.CheckInterval, cfg.RealtimeDelay, cfg.SweepBackoff, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start monitoring
	if cfg.AutoStart {
		scheduler.Start(ctx)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		scheduler.Stop()
		cancel()
	}()

	// Start API server
	server := api.NewServer(store, scheduler, notifier, hub, log)
	if err := server.Start(ctx, cfg.APIPort); err != nil && err != http.ErrServerClosed {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}

func seedTelegramConfig(cfg *config.Config, store *storage.Storage, log *slog.Logger) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return
	}
	if _, err := store.GetTelegramConfig(); err == nil {
		return
	}
	if err := store.SetTelegramConfig(cfg.BotToken, cfg.ChatID); err != nil {
		log.Error("seed telegram config", "error", err)
		return
	}
	log.Info("telegram channel seeded from environment")
}

func walletStatusPayload(store *storage.Storage, log *slog.Logger) (any, bool) {
	wallets, err := store.GetActiveWallets()
	if err != nil {
		log.Error("wallet status snapshot", "error", err)
		return nil, false
	}

	type status struct {
		Address   string  `json:"address"`
		Balance   float64 `json:"balance"`
		Threshold string  `json:"threshold"`
		IsActive  bool    `json:"is_active"`
	}
	payload := make([]status, 0, len(wallets))
	for _, w := range wallets {
		payload = append(payload, status{
			Address:   w.Address,
			Balance:   ethunits.EtherFloat(w.LastBalance),
			Threshold: ethunits.FormatWei(w.AlertThreshold),
			IsActive:  w.Active,
		})
	}
	return payload, true
}
