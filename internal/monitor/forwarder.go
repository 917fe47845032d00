package monitor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethwatch/wallet-monitor/internal/ethunits"
	"github.com/ethwatch/wallet-monitor/internal/keystore"
	"github.com/ethwatch/wallet-monitor/internal/notify"
	"github.com/ethwatch/wallet-monitor/internal/storage"
	"github.com/ethwatch/wallet-monitor/internal/stream"
)

// forwardGasLimit is the fixed gas for a plain value transfer.
const forwardGasLimit = uint64(21000)

// TxSender is the write side of the chain boundary. *ethclient.Client
// satisfies it.
type TxSender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySource resolves signing credentials by wallet address.
type KeySource interface {
	Key(address string) (*ecdsa.PrivateKey, error)
}

// txLedger is the slice of the store the forwarder needs.
type txLedger interface {
	InsertTransaction(rec *storage.TransactionRecord) (bool, error)
}

// Forwarder moves newly received funds to the receiver address, net of gas
// and the wallet's retained reserve.
type Forwarder struct {
	eth      TxSender
	keys     KeySource
	store    txLedger
	sink     Sink
	events   EventSink
	log      *slog.Logger
	receiver string // canonical lowercase, empty when unconfigured
}

// NewForwarder creates a new Forwarder
func NewForwarder(eth TxSender, keys KeySource, store txLedger, sink Sink, events EventSink, receiver string, log *slog.Logger) *Forwarder {
	return &Forwarder{
		eth:      eth,
		keys:     keys,
		store:    store,
		sink:     sink,
		events:   events,
		log:      log,
		receiver: keystore.Normalize(receiver),
	}
}

// Forward computes the safe forwardable amount and submits a transfer.
//
// The balance is re-read live; the wallet's cached last-known balance is
// never trusted here. Preconditions are checked in order and short-circuit:
// receiver configured, RPC reachable, signing key present. A submitted
// transaction is final; nothing after submission can cancel it, so a
// failure to record it locally is logged loudly instead of rolled back.
func (f *Forwarder) Forward(ctx context.Context, wallet *storage.Wallet) ForwardResult {
	if f.receiver == "" {
		f.log.Error("receiver wallet address not configured, cannot forward", "address", wallet.Address)
		return skipped(SkipNoReceiver)
	}
	if f.eth == nil {
		f.log.Warn("ethereum rpc not configured, forwarding skipped", "address", wallet.Address)
		return skipped(SkipNoRPC)
	}

	chainID, err := f.eth.ChainID(ctx)
	if err != nil {
		return failed(fmt.Errorf("rpc connectivity: %w", err))
	}

	key, err := f.keys.Key(wallet.Address)
	if errors.Is(err, keystore.ErrNoKey) {
		f.log.Warn("no signing key, forwarding skipped", "address", wallet.Address)
		return skipped(SkipNoSigningKey)
	}
	if err != nil {
		return failed(fmt.Errorf("load signing key: %w", err))
	}

	account := common.HexToAddress(wallet.Address)

	liveBalance, err := f.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return failed(fmt.Errorf("live balance: %w", err))
	}

	gasPrice, err := f.eth.SuggestGasPrice(ctx)
	if err != nil {
		return failed(fmt.Errorf("gas price: %w", err))
	}

	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(forwardGasLimit))

	retained := wallet.RetainedThreshold
	if retained == nil {
		retained = big.NewInt(0)
	}

	sendable := new(big.Int).Sub(liveBalance, gasCost)
	sendable.Sub(sendable, retained)

	if sendable.Sign() <= 0 {
		f.log.Warn("insufficient balance after gas and reserve",
			"address", wallet.Address,
			"balance", ethunits.FormatWei(liveBalance),
			"gas_cost", ethunits.FormatWei(gasCost),
		)
		return skipped(SkipInsufficientAfterReserve)
	}

	if wallet.MinForward != nil && wallet.MinForward.Sign() > 0 && sendable.Cmp(wallet.MinForward) < 0 {
		f.log.Info("amount below minimum forward threshold",
			"address", wallet.Address,
			"amount", ethunits.FormatWei(sendable),
			"minimum", ethunits.FormatWei(wallet.MinForward),
		)
		return skipped(SkipBelowMinimum)
	}

	nonce, err := f.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return failed(fmt.Errorf("nonce: %w", err))
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(f.receiver), sendable, forwardGasLimit, gasPrice, nil)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return failed(fmt.Errorf("sign transaction: %w", err))
	}

	if err := f.eth.SendTransaction(ctx, signedTx); err != nil {
		return failed(fmt.Errorf("send transaction: %w", err))
	}

	txHash := signedTx.Hash().Hex()
	f.log.Info("forwarding transaction sent",
		"address", wallet.Address,
		"tx_hash", txHash,
		"amount", ethunits.FormatWei(sendable),
	)

	rec := &storage.TransactionRecord{
		Hash:       txHash,
		Address:    wallet.Address,
		From:       wallet.Address,
		To:         f.receiver,
		Value:      sendable,
		GasUsed:    forwardGasLimit,
		IsIncoming: false,
		Timestamp:  time.Now().UTC(),
	}
	if _, err := f.store.InsertTransaction(rec); err != nil {
		// The transfer is already on the wire; an unrecorded submitted tx
		// is a reconciliation problem, so make it impossible to miss.
		f.log.Error("SUBMITTED TRANSACTION NOT RECORDED",
			"address", wallet.Address,
			"tx_hash", txHash,
			"amount", ethunits.FormatWei(sendable),
			"error", err,
		)
	}

	if err := f.sink.Send(ctx, notify.ForwardingNotice(wallet.Address, f.receiver, sendable, txHash)); err != nil {
		if err == notify.ErrNotConfigured {
			f.log.Debug("forwarding notice skipped, channel not configured", "address", wallet.Address)
		} else {
			f.log.Error("send forwarding notice", "address", wallet.Address, "error", err)
		}
	}

	f.events.Broadcast(stream.EventTransaction, map[string]any{
		"address":     wallet.Address,
		"hash":        txHash,
		"value":       ethunits.EtherFloat(sendable),
		"is_incoming": false,
		"forwarded":   true,
	})
	f.events.LogEvent(wallet.Address,
		fmt.Sprintf("Forwarded %s ETH to %s (%s)", ethunits.FormatWei(sendable), f.receiver, txHash),
		"success",
	)

	return forwarded(txHash, sendable)
}
