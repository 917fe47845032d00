package monitor

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ethwatch/wallet-monitor/internal/etherscan"
	"github.com/ethwatch/wallet-monitor/internal/keystore"
	"github.com/ethwatch/wallet-monitor/internal/storage"
)

const (
	testKeyHex   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testReceiver = "0x9999999999999999999999999999999999999999"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func wei(s string) *big.Int {
	w, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal: " + s)
	}
	return w
}

// seedWallet registers a wallet and records an initial balance so the next
// observation has a baseline to diff against.
func seedWallet(t *testing.T, store *storage.Storage, address string, balance, threshold, minForward, retained *big.Int, forwarding bool) *storage.Wallet {
	t.Helper()

	_, err := store.UpsertWallet(address, threshold, minForward, retained, forwarding)
	require.NoError(t, err)

	if balance != nil && balance.Sign() > 0 {
		_, err = store.RecordObservation(address, balance, balance, time.Now().Add(-time.Minute))
		require.NoError(t, err)
	}

	w, err := store.GetWallet(address)
	require.NoError(t, err)
	return w
}

// fakeChain is a scripted ChainReader. With hold set, GetBalance parks until
// the caller's context is cancelled.
type fakeChain struct {
	mu           sync.Mutex
	balance      *big.Int
	balanceErr   error
	txs          []etherscan.Transaction
	txErr        error
	balanceCalls []string
	hold         bool
	gate         chan struct{} // closed on the first balance call
}

func (c *fakeChain) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	c.balanceCalls = append(c.balanceCalls, address)
	first := len(c.balanceCalls) == 1
	balance, err, hold, gate := c.balance, c.balanceErr, c.hold, c.gate
	c.mu.Unlock()

	if first && gate != nil {
		close(gate)
	}
	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance), nil
}

func (c *fakeChain) GetTransactions(ctx context.Context, address string, page, offset int) ([]etherscan.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txErr != nil {
		return nil, c.txErr
	}
	return c.txs, nil
}

func (c *fakeChain) setBalance(b *big.Int) {
	c.mu.Lock()
	c.balance = b
	c.mu.Unlock()
}

func (c *fakeChain) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.balanceCalls))
	copy(out, c.balanceCalls)
	return out
}

// fakeSink records delivered alert text.
type fakeSink struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (s *fakeSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// fakeEvents counts broadcast event types.
type fakeEvents struct {
	mu         sync.Mutex
	broadcasts []string
	logs       []string
}

func (e *fakeEvents) Broadcast(event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcasts = append(e.broadcasts, event)
}

func (e *fakeEvents) LogEvent(source, message, level string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, message)
}

func (e *fakeEvents) logsContain(substr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func (e *fakeEvents) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, b := range e.broadcasts {
		if b == event {
			n++
		}
	}
	return n
}

// fakeEth is a scripted TxSender that captures submitted transactions.
type fakeEth struct {
	mu       sync.Mutex
	chainID  *big.Int
	balance  *big.Int
	gasPrice *big.Int
	nonce    uint64

	chainIDErr error
	balanceErr error
	gasErr     error
	nonceErr   error
	sendErr    error

	sent []*types.Transaction
}

func (e *fakeEth) ChainID(ctx context.Context) (*big.Int, error) {
	if e.chainIDErr != nil {
		return nil, e.chainIDErr
	}
	if e.chainID == nil {
		return big.NewInt(1), nil
	}
	return e.chainID, nil
}

func (e *fakeEth) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if e.balanceErr != nil {
		return nil, e.balanceErr
	}
	return new(big.Int).Set(e.balance), nil
}

func (e *fakeEth) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if e.gasErr != nil {
		return nil, e.gasErr
	}
	return new(big.Int).Set(e.gasPrice), nil
}

func (e *fakeEth) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if e.nonceErr != nil {
		return 0, e.nonceErr
	}
	return e.nonce, nil
}

func (e *fakeEth) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if e.sendErr != nil {
		return e.sendErr
	}
	e.mu.Lock()
	e.sent = append(e.sent, tx)
	e.mu.Unlock()
	return nil
}

func (e *fakeEth) submitted() []*types.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Transaction, len(e.sent))
	copy(out, e.sent)
	return out
}

// fakeKeys serves one key for every address, or ErrNoKey when empty.
type fakeKeys struct {
	key *ecdsa.PrivateKey
}

func (k *fakeKeys) Key(address string) (*ecdsa.PrivateKey, error) {
	if k.key == nil {
		return nil, keystore.ErrNoKey
	}
	return k.key, nil
}

func testSigningKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := keystore.ParseKey(testKeyHex)
	require.NoError(t, err)
	return key, keystore.Address(key)
}
