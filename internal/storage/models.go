package storage

import (
	"math/big"
	"time"
)

// Wallet is one tracked address. All amounts are wei.
type Wallet struct {
	ID                int64
	Address           string // canonical lowercase hex, unique
	Active            bool
	LastBalance       *big.Int
	LastChecked       *time.Time
	AlertThreshold    *big.Int // minimum |delta| that triggers a notification
	ForwardingEnabled bool
	MinForward        *big.Int // floor below which forwarding is skipped
	RetainedThreshold *big.Int // amount kept in the wallet after forwarding
	CreatedAt         time.Time
}

// BalanceSnapshot is one observed balance change. Append-only.
type BalanceSnapshot struct {
	ID               int64
	Address          string
	Balance          *big.Int
	Change           *big.Int // signed delta vs the previous snapshot
	Timestamp        time.Time
	NotificationSent bool
}

// TransactionRecord is one observed or authored transfer. The hash is the
// sole dedup key: re-seeing a recorded hash short-circuits all side effects.
type TransactionRecord struct {
	ID          int64
	Hash        string
	Address     string
	From        string
	To          string
	Value       *big.Int
	GasUsed     uint64
	IsIncoming  bool
	BlockNumber *int64 // nil while pending
	Timestamp   time.Time
}

// TelegramConfig is the operator's notification channel. At most one row is
// active at a time.
type TelegramConfig struct {
	ID        int64
	BotToken  string
	ChatID    string
	Active    bool
	CreatedAt time.Time
}
