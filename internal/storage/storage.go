package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage handles all database operations. It is the sole arbiter of "have
// we seen this transaction hash" and "what was the last recorded balance".
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL UNIQUE,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_balance TEXT NOT NULL DEFAULT '0',
			last_checked INTEGER,
			alert_threshold TEXT NOT NULL DEFAULT '10000000000000000',
			forwarding_enabled INTEGER NOT NULL DEFAULT 0,
			min_forward_amount TEXT NOT NULL DEFAULT '1000000000000000',
			retained_threshold TEXT NOT NULL DEFAULT '0',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallets_active ON wallets(is_active)`,

		`CREATE TABLE IF NOT EXISTS balance_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL,
			balance TEXT NOT NULL,
			balance_change TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			notification_sent INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_address_ts ON balance_history(address, timestamp)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			value TEXT NOT NULL,
			gas_used INTEGER NOT NULL DEFAULT 0,
			is_incoming INTEGER NOT NULL DEFAULT 0,
			block_number INTEGER,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_address ON transactions(address)`,

		`CREATE TABLE IF NOT EXISTS telegram_config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_token TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Wallets ---

// UpsertWallet registers a wallet or reactivates an existing one with fresh
// thresholds. Key material is never part of the record.
func (s *Storage) UpsertWallet(address string, alertThreshold, minForward, retained *big.Int, forwardingEnabled bool) (*Wallet, error) {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO wallets (address, is_active, alert_threshold, forwarding_enabled, min_forward_amount, retained_threshold, created_at)
		 VALUES (?, 1, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
			is_active = 1,
			alert_threshold = excluded.alert_threshold,
			forwarding_enabled = excluded.forwarding_enabled,
			min_forward_amount = excluded.min_forward_amount,
			retained_threshold = excluded.retained_threshold`,
		address, weiText(alertThreshold), boolInt(forwardingEnabled), weiText(minForward), weiText(retained), now,
	)
	if err != nil {
		return nil, err
	}

	return s.GetWallet(address)
}

const walletColumns = `id, address, is_active, last_balance, last_checked, alert_threshold, forwarding_enabled, min_forward_amount, retained_threshold, created_at`

func (s *Storage) scanWallet(row interface{ Scan(...any) error }) (*Wallet, error) {
	var (
		w           Wallet
		active      int
		lastBalance string
		lastChecked sql.NullInt64
		alert       string
		forwarding  int
		minFwd      string
		retained    string
		createdAt   int64
	)

	err := row.Scan(&w.ID, &w.Address, &active, &lastBalance, &lastChecked, &alert, &forwarding, &minFwd, &retained, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	w.Active = active != 0
	w.ForwardingEnabled = forwarding != 0
	w.LastBalance = parseWei(lastBalance)
	w.AlertThreshold = parseWei(alert)
	w.MinForward = parseWei(minFwd)
	w.RetainedThreshold = parseWei(retained)
	w.CreatedAt = time.Unix(createdAt, 0)
	if lastChecked.Valid {
		t := time.Unix(lastChecked.Int64, 0)
		w.LastChecked = &t
	}

	return &w, nil
}

// GetWallet returns a wallet by address
func (s *Storage) GetWallet(address string) (*Wallet, error) {
	row := s.db.QueryRow(`SELECT `+walletColumns+` FROM wallets WHERE address = ?`, address)
	return s.scanWallet(row)
}

// GetActiveWallets returns all active wallets
func (s *Storage) GetActiveWallets() ([]Wallet, error) {
	return s.queryWallets(`SELECT ` + walletColumns + ` FROM wallets WHERE is_active = 1 ORDER BY id`)
}

// GetAllWallets returns all wallets in the database
func (s *Storage) GetAllWallets() ([]Wallet, error) {
	return s.queryWallets(`SELECT ` + walletColumns + ` FROM wallets ORDER BY id`)
}

func (s *Storage) queryWallets(query string, args ...any) ([]Wallet, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := s.scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}

	return wallets, rows.Err()
}

// SetWalletActive toggles a wallet's active flag. Deactivation, not deletion.
func (s *Storage) SetWalletActive(address string, active bool) error {
	result, err := s.db.Exec(
		"UPDATE wallets SET is_active = ? WHERE address = ?",
		boolInt(active), address,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateForwarding applies forwarding thresholds to all active wallets.
func (s *Storage) UpdateForwarding(minForward, retained *big.Int) error {
	_, err := s.db.Exec(
		"UPDATE wallets SET min_forward_amount = ?, retained_threshold = ?, forwarding_enabled = 1 WHERE is_active = 1",
		weiText(minForward), weiText(retained),
	)
	return err
}

// TouchWallet stamps last_checked for a poll that observed no change.
func (s *Storage) TouchWallet(address string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE wallets SET last_checked = ? WHERE address = ?",
		at.Unix(), address,
	)
	return err
}

// --- Balance history ---

// RecordObservation appends a balance snapshot and moves the wallet's
// last-known balance forward in a single committed transaction. Partial
// writes are not possible: either both land or neither does.
func (s *Storage) RecordObservation(address string, balance, change *big.Int, at time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO balance_history (address, balance, balance_change, timestamp, notification_sent)
		 VALUES (?, ?, ?, ?, 0)`,
		address, weiText(balance), weiText(change), at.Unix(),
	)
	if err != nil {
		return 0, err
	}

	snapshotID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		"UPDATE wallets SET last_balance = ?, last_checked = ? WHERE address = ?",
		weiText(balance), at.Unix(), address,
	)
	if err != nil {
		return 0, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, fmt.Errorf("record observation: wallet %s: %w", address, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return snapshotID, nil
}

// MarkNotificationSent flags a snapshot after its alert was delivered.
func (s *Storage) MarkNotificationSent(snapshotID int64) error {
	_, err := s.db.Exec(
		"UPDATE balance_history SET notification_sent = 1 WHERE id = ?",
		snapshotID,
	)
	return err
}

// ListHistory returns snapshots for an address since a point in time,
// oldest first, capped at limit.
func (s *Storage) ListHistory(address string, since time.Time, limit int) ([]BalanceSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, address, balance, balance_change, timestamp, notification_sent
		 FROM balance_history
		 WHERE address = ? AND timestamp >= ?
		 ORDER BY timestamp ASC LIMIT ?`,
		address, since.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []BalanceSnapshot
	for rows.Next() {
		var (
			snap     BalanceSnapshot
			balance  string
			change   string
			ts       int64
			notified int
		)
		if err := rows.Scan(&snap.ID, &snap.Address, &balance, &change, &ts, &notified); err != nil {
			return nil, err
		}
		snap.Balance = parseWei(balance)
		snap.Change = parseWei(change)
		snap.Timestamp = time.Unix(ts, 0)
		snap.NotificationSent = notified != 0
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

// GetSnapshot returns a single snapshot by id.
func (s *Storage) GetSnapshot(snapshotID int64) (*BalanceSnapshot, error) {
	var (
		snap     BalanceSnapshot
		balance  string
		change   string
		ts       int64
		notified int
	)
	err := s.db.QueryRow(
		`SELECT id, address, balance, balance_change, timestamp, notification_sent
		 FROM balance_history WHERE id = ?`,
		snapshotID,
	).Scan(&snap.ID, &snap.Address, &balance, &change, &ts, &notified)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap.Balance = parseWei(balance)
	snap.Change = parseWei(change)
	snap.Timestamp = time.Unix(ts, 0)
	snap.NotificationSent = notified != 0
	return &snap, nil
}

// --- Transactions ---

// InsertTransaction records a transfer, returning true if the hash was new.
// INSERT OR IGNORE on the unique hash is the dedup mechanism: an already
// recorded hash is a no-op and reports false.
func (s *Storage) InsertTransaction(rec *TransactionRecord) (bool, error) {
	var block any
	if rec.BlockNumber != nil {
		block = *rec.BlockNumber
	}

	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO transactions
			(tx_hash, address, from_address, to_address, value, gas_used, is_incoming, block_number, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Hash, rec.Address, rec.From, rec.To, weiText(rec.Value),
		rec.GasUsed, boolInt(rec.IsIncoming), block, rec.Timestamp.Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// HasTransaction reports whether a hash has already been recorded.
func (s *Storage) HasTransaction(hash string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM transactions WHERE tx_hash = ?", hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListTransactions returns the most recent transfers for an address.
func (s *Storage) ListTransactions(address string, limit int) ([]TransactionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, tx_hash, address, from_address, to_address, value, gas_used, is_incoming, block_number, timestamp
		 FROM transactions WHERE address = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		address, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var (
			rec      TransactionRecord
			value    string
			incoming int
			block    sql.NullInt64
			ts       int64
		)
		if err := rows.Scan(&rec.ID, &rec.Hash, &rec.Address, &rec.From, &rec.To, &value, &rec.GasUsed, &incoming, &block, &ts); err != nil {
			return nil, err
		}
		rec.Value = parseWei(value)
		rec.IsIncoming = incoming != 0
		rec.Timestamp = time.Unix(ts, 0)
		if block.Valid {
			b := block.Int64
			rec.BlockNumber = &b
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// --- Telegram config ---

// SetTelegramConfig replaces the active notification channel.
func (s *Storage) SetTelegramConfig(botToken, chatID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE telegram_config SET is_active = 0"); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO telegram_config (bot_token, chat_id, is_active, created_at) VALUES (?, ?, 1, ?)",
		botToken, chatID, time.Now().Unix(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetTelegramConfig returns the active notification channel, if any.
func (s *Storage) GetTelegramConfig() (*TelegramConfig, error) {
	var (
		cfg       TelegramConfig
		active    int
		createdAt int64
	)
	err := s.db.QueryRow(
		`SELECT id, bot_token, chat_id, is_active, created_at
		 FROM telegram_config WHERE is_active = 1
		 ORDER BY id DESC LIMIT 1`,
	).Scan(&cfg.ID, &cfg.BotToken, &cfg.ChatID, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Active = active != 0
	cfg.CreatedAt = time.Unix(createdAt, 0)
	return &cfg, nil
}

// --- Helpers ---

func weiText(w *big.Int) string {
	if w == nil {
		return "0"
	}
	return w.String()
}

func parseWei(s string) *big.Int {
	w, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return w
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
