package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Monitoring modes.
const (
	ModeInterval = "interval" // fixed-interval batch sweeps
	ModeRealtime = "realtime" // continuous sweeps with a short delay
)

type Config struct {
	// Etherscan
	EtherscanAPIKey  string
	EtherscanBaseURL string

	// Ethereum RPC (forwarding)
	EthRPCURL       string
	ReceiverAddress string

	// Telegram seed values (runtime channel config lives in the store)
	BotToken string
	ChatID   string

	// Database
	DBPath string

	// HTTP API
	APIPort int

	// Monitoring
	MonitorMode   string
	CheckInterval time.Duration
	RealtimeDelay time.Duration
	SweepBackoff  time.Duration
	AutoStart     bool

	// Tolerance (wei) below which a balance delta is treated as noise.
	BalanceEpsilonWei *big.Int
}

func Load() *Config {
	return &Config{
		EtherscanAPIKey:  getEnv("ETHERSCAN_API_KEY", ""),
		EtherscanBaseURL: strings.TrimSuffix(getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api"), "/"),

		EthRPCURL:       getEnv("ETH_RPC_URL", ""),
		ReceiverAddress: getEnv("RECEIVER_WALLET_ADDRESS", ""),

		BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		DBPath: getEnv("DB_PATH", "./monitor.db"),

		APIPort: getEnvInt("API_PORT", 8080),

		MonitorMode:   getEnv("MONITOR_MODE", ModeRealtime),
		CheckInterval: getEnvDuration("CHECK_INTERVAL", 5*time.Minute),
		RealtimeDelay: getEnvDuration("REALTIME_DELAY", 10*time.Second),
		SweepBackoff:  getEnvDuration("SWEEP_BACKOFF", 30*time.Second),
		AutoStart:     getEnvBool("MONITOR_AUTOSTART", true),

		// Default ~1e-6 ETH, absorbs provider rounding.
		BalanceEpsilonWei: getEnvWei("BALANCE_EPSILON_WEI", big.NewInt(1_000_000_000_000)),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func getEnvWei(key string, defaultVal *big.Int) *big.Int {
	if val := os.Getenv(key); val != "" {
		if w, ok := new(big.Int).SetString(val, 10); ok && w.Sign() >= 0 {
			return w
		}
	}
	return defaultVal
}
