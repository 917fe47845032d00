package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethwatch/wallet-monitor/internal/etherscan"
	"github.com/ethwatch/wallet-monitor/internal/ethunits"
	"github.com/ethwatch/wallet-monitor/internal/keystore"
	"github.com/ethwatch/wallet-monitor/internal/notify"
	"github.com/ethwatch/wallet-monitor/internal/storage"
	"github.com/ethwatch/wallet-monitor/internal/stream"
)

const recentTxWindow = 10

// ChainReader is the read side of the chain-data boundary.
type ChainReader interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	GetTransactions(ctx context.Context, address string, page, offset int) ([]etherscan.Transaction, error)
}

// ledger is the slice of the store the watcher needs.
type ledger interface {
	RecordObservation(address string, balance, change *big.Int, at time.Time) (int64, error)
	MarkNotificationSent(snapshotID int64) error
	TouchWallet(address string, at time.Time) error
	InsertTransaction(rec *storage.TransactionRecord) (bool, error)
}

// Watcher detects per-wallet balance deltas and decides whether they
// warrant a notification. It never caches chain or store facts beyond a
// single observation.
type Watcher struct {
	chain  ChainReader
	store  ledger
	sink   Sink
	events EventSink
	log    *slog.Logger

	// epsilon absorbs provider rounding; deltas at or below it are noise.
	epsilon *big.Int
}

// NewWatcher creates a new Watcher
func NewWatcher(chain ChainReader, store ledger, sink Sink, events EventSink, epsilon *big.Int, log *slog.Logger) *Watcher {
	if epsilon == nil {
		epsilon = big.NewInt(0)
	}
	return &Watcher{
		chain:   chain,
		store:   store,
		sink:    sink,
		events:  events,
		log:     log,
		epsilon: epsilon,
	}
}

// Observe fetches the wallet's live balance and classifies the delta
// against the last recorded one. An unavailable provider is fail-safe:
// nothing is mutated and the check defers to the next cycle. On a change
// the snapshot and wallet update are committed before any notification is
// attempted, so delivery failures can never lose the observation.
func (w *Watcher) Observe(ctx context.Context, wallet *storage.Wallet) (Observation, error) {
	current, err := w.chain.GetBalance(ctx, wallet.Address)
	if err != nil {
		w.log.Warn("balance fetch failed, skipping cycle", "address", wallet.Address, "error", err)
		return Observation{}, nil
	}

	previous := wallet.LastBalance
	if previous == nil {
		previous = big.NewInt(0)
	}

	delta := new(big.Int).Sub(current, previous)
	now := time.Now().UTC()

	if new(big.Int).Abs(delta).Cmp(w.epsilon) <= 0 {
		if err := w.store.TouchWallet(wallet.Address, now); err != nil {
			return Observation{}, fmt.Errorf("touch wallet %s: %w", wallet.Address, err)
		}
		return Observation{}, nil
	}

	snapshotID, err := w.store.RecordObservation(wallet.Address, current, delta, now)
	if err != nil {
		return Observation{}, fmt.Errorf("record observation %s: %w", wallet.Address, err)
	}

	obs := Observation{
		Changed:       true,
		Delta:         delta,
		NewBalance:    current,
		SnapshotID:    snapshotID,
		ShouldForward: delta.Sign() > 0 && wallet.ForwardingEnabled,
	}

	w.log.Info("balance changed",
		"address", wallet.Address,
		"balance", ethunits.FormatWei(current),
		"change", ethunits.FormatWeiSigned(delta),
	)

	w.events.Broadcast(stream.EventBalanceUpdate, map[string]any{
		"address":      wallet.Address,
		"balance":      ethunits.EtherFloat(current),
		"change":       ethunits.EtherFloat(delta),
		"last_checked": now.Format(time.RFC3339),
	})

	level := "success"
	if delta.Sign() < 0 {
		level = "warning"
	}
	w.events.LogEvent(wallet.Address,
		fmt.Sprintf("Balance changed by %s ETH (now %s ETH)",
			ethunits.FormatWeiSigned(delta), ethunits.FormatWei(current)),
		level,
	)

	obs.NotificationSent = w.notify(ctx, wallet, current, previous, delta, snapshotID)

	w.recordRecentTransactions(ctx, wallet)

	return obs, nil
}

// notify sends the balance alert when |delta| crosses the wallet's alert
// threshold. Returns whether delivery succeeded.
func (w *Watcher) notify(ctx context.Context, wallet *storage.Wallet, current, previous, delta *big.Int, snapshotID int64) bool {
	threshold := wallet.AlertThreshold
	if threshold == nil {
		threshold = big.NewInt(0)
	}

	if delta.Sign() == 0 || new(big.Int).Abs(delta).Cmp(threshold) < 0 {
		return false
	}

	err := w.sink.Send(ctx, notify.BalanceAlert(wallet.Address, current, previous, delta))
	if err == notify.ErrNotConfigured {
		w.log.Debug("notification skipped, channel not configured", "address", wallet.Address)
		return false
	}
	if err != nil {
		w.log.Error("send balance alert", "address", wallet.Address, "error", err)
		return false
	}

	if err := w.store.MarkNotificationSent(snapshotID); err != nil {
		w.log.Error("mark notification sent", "snapshot_id", snapshotID, "error", err)
	}
	return true
}

// recordRecentTransactions scans the wallet's recent transaction history
// and records unseen hashes. Provider pages overlap across polls, so the
// hash uniqueness constraint decides what is new; an already recorded hash
// is skipped entirely.
func (w *Watcher) recordRecentTransactions(ctx context.Context, wallet *storage.Wallet) {
	txs, err := w.chain.GetTransactions(ctx, wallet.Address, 1, recentTxWindow)
	if err != nil {
		w.log.Warn("fetch transactions", "address", wallet.Address, "error", err)
		return
	}

	recorded := 0
	for _, tx := range txs {
		if tx.Hash == "" {
			continue
		}

		value := tx.ValueWei()
		if value == nil {
			w.log.Warn("malformed transaction value", "hash", tx.Hash)
			continue
		}

		rec := &storage.TransactionRecord{
			Hash:       tx.Hash,
			Address:    wallet.Address,
			From:       keystore.Normalize(tx.From),
			To:         keystore.Normalize(tx.To),
			Value:      value,
			GasUsed:    tx.GasUsedUnits(),
			IsIncoming: keystore.Normalize(tx.To) == wallet.Address,
			Timestamp:  tx.Time(),
		}
		if block, ok := tx.Block(); ok {
			rec.BlockNumber = &block
		}

		isNew, err := w.store.InsertTransaction(rec)
		if err != nil {
			w.log.Error("insert transaction", "hash", tx.Hash, "error", err)
			continue
		}
		if !isNew {
			continue
		}

		recorded++
		w.events.Broadcast(stream.EventTransaction, map[string]any{
			"address":     wallet.Address,
			"hash":        rec.Hash,
			"value":       ethunits.EtherFloat(rec.Value),
			"is_incoming": rec.IsIncoming,
		})

		if rec.IsIncoming {
			err := w.sink.Send(ctx, notify.TransactionNotice(wallet.Address, rec.Value, rec.Hash))
			if err != nil && err != notify.ErrNotConfigured {
				w.log.Error("send transaction notice", "hash", rec.Hash, "error", err)
			}
		}
	}

	if recorded > 0 {
		w.log.Info("recorded transactions", "address", wallet.Address, "count", recorded)
	}
}
